// codec.go defines the contract of the codec a decoder worker drives.

// Package codec defines what a decoder worker expects from a codec.
//
// The codec itself is opaque: it consumes compressed packets and yields
// decoded frames into caller-provided payloads. Package codec/libav
// implements the contract on top of libav.
package codec

import (
	"context"
	"errors"
	"time"

	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/typing"
)

var (
	// ErrWouldBlock is returned by SendPacket if the codec cannot accept
	// more input until its output is drained, and by ReceiveFrame if it
	// needs more input to produce a frame.
	ErrWouldBlock = errors.New("the codec would block")
)

// Decoder is a decoding codec. Besides ErrWouldBlock, ReceiveFrame returns
// io.EOF once the codec is fully drained after SendEndOfStream. Any other
// error is unrecoverable.
type Decoder[P types.Packet, F any] interface {
	SendPacket(ctx context.Context, pkt P) error
	SendEndOfStream(ctx context.Context) error
	ReceiveFrame(ctx context.Context, frame F) (FrameInfo, error)

	// Flush drops the internal state, so that decoding may restart
	// from an arbitrary position. It also resets the end of stream state.
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// FrameInfo is what a codec reports about a frame it decoded.
type FrameInfo struct {
	PTS      typing.Optional[time.Duration]
	Duration time.Duration

	// Pos is the byte offset of the source packet in the input, -1 if unknown.
	Pos    int64
	Format types.FrameFormat
}
