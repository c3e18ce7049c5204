package indicator

import (
	"context"
	"time"

	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
)

// AVDrift smooths the divergence of the video clock from the audio clock
// (positive means the video is ahead). The average restarts on every new
// epoch, since the clocks are not comparable across a seek.
type AVDrift struct {
	locker  xsync.Mutex
	average *MAMA[time.Duration]
	serial  types.Serial
	last    typing.Optional[time.Duration]
}

func NewAVDrift(windowSize int) *AVDrift {
	return &AVDrift{
		average: NewMAMADefault[time.Duration](windowSize),
		serial:  types.SerialInvalid,
	}
}

// Update feeds one pair of clock readings taken in the given epoch and
// returns the smoothed drift. If any reading is missing, the previous
// result is returned.
func (d *AVDrift) Update(
	ctx context.Context,
	audio typing.Optional[time.Duration],
	video typing.Optional[time.Duration],
	serial types.Serial,
) typing.Optional[time.Duration] {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &d.locker, func() typing.Optional[time.Duration] {
		if !audio.IsSet() || !video.IsSet() {
			return d.last
		}
		if serial != d.serial {
			logger.Tracef(ctx, "AVDrift: new epoch %s -> %s", d.serial, serial)
			d.average.Reset()
			d.serial = serial
		}
		d.last = typing.Opt(d.average.Update(video.Get() - audio.Get()))
		return d.last
	})
}

// Get returns the latest smoothed drift.
func (d *AVDrift) Get(ctx context.Context) typing.Optional[time.Duration] {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &d.locker, func() typing.Optional[time.Duration] {
		return d.last
	})
}
