package framequeue

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/typing"
)

// Frame is a slot of a FrameQueue: a decoded unit with its timing and
// the epoch it was decoded in.
type Frame[F any] struct {
	Payload  F
	Serial   types.Serial
	PTS      typing.Optional[time.Duration]
	Duration time.Duration

	// Pos is the byte offset of the source packet in the input, -1 if unknown.
	Pos    int64
	Format types.FrameFormat

	// Uploaded is renderer bookkeeping: the payload was already handed to the output.
	Uploaded bool
}

func (f *Frame[F]) String() string {
	if !f.PTS.IsSet() {
		return fmt.Sprintf("Frame(pts:none; dur:%v; pos:%d; %s; %s)", f.Duration, f.Pos, f.Format, f.Serial)
	}
	return fmt.Sprintf("Frame(pts:%v; dur:%v; pos:%d; %s; %s)", f.PTS.Get(), f.Duration, f.Pos, f.Format, f.Serial)
}

// EndPTS returns the presentation timestamp right after the frame.
func (f *Frame[F]) EndPTS() typing.Optional[time.Duration] {
	if !f.PTS.IsSet() {
		return f.PTS
	}
	return typing.Opt(f.PTS.Get() + f.Duration)
}

// Allocator manages the payloads of the slots. A payload is allocated once
// per slot and reused: Unref drops its content when the slot is consumed,
// Free releases it when the queue is closed.
type Allocator[F any] struct {
	Alloc func() F
	Unref func(F)
	Free  func(F)
}

func (a Allocator[F]) unref(frame *Frame[F]) {
	if a.Unref != nil {
		a.Unref(frame.Payload)
	}
	frame.Serial = types.SerialInvalid
	frame.PTS = typing.Optional[time.Duration]{}
	frame.Duration = 0
	frame.Pos = -1
	frame.Format = types.FrameFormat{}
	frame.Uploaded = false
}
