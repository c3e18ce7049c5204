// clock.go implements a drift-corrected presentation clock.

// Package clock provides the presentation clocks of a player and the
// policies that keep them in sync with each other.
//
// A Clock is anchored at a presentation timestamp at some wall-clock
// instant and extrapolates from there. It is bound to the serial of the
// queue its timestamps come from: once that queue is flushed (a seek) the
// clock reports no value until it is re-anchored with fresh data.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
)

// Clock fields are guarded by Locker, so every read observes a consistent
// (pts, drift, lastUpdated, speed, paused, serial) tuple. The bound serial
// source is read without taking any other lock.
type Clock struct {
	Locker     xsync.Mutex
	TimeSource TimeSource

	pts         typing.Optional[time.Duration]
	ptsDrift    time.Duration
	lastUpdated time.Duration
	speed       float64
	paused      bool
	serial      types.Serial

	queueSerial types.SerialSource
}

var _ types.SerialSource = (*Clock)(nil)

// New returns a clock bound to the serial of queueSerial. A nil
// queueSerial binds the clock to its own serial, which is what an
// external (free-running) clock needs.
func New(
	ctx context.Context,
	queueSerial types.SerialSource,
) *Clock {
	return NewWithTimeSource(ctx, queueSerial, MonotonicTime{})
}

func NewWithTimeSource(
	ctx context.Context,
	queueSerial types.SerialSource,
	timeSource TimeSource,
) *Clock {
	c := &Clock{
		TimeSource:  timeSource,
		speed:       1.0,
		queueSerial: queueSerial,
	}
	c.setAtLocked(typing.Optional[time.Duration]{}, types.SerialInvalid, timeSource.Now())
	return c
}

func (c *Clock) String() string {
	ctx := context.Background()
	v := c.Get(ctx)
	if !v.IsSet() {
		return fmt.Sprintf("Clock(none; %s)", c.Serial(ctx))
	}
	return fmt.Sprintf("Clock(%v; %s)", v.Get(), c.Serial(ctx))
}

func (c *Clock) now() time.Duration {
	return c.TimeSource.Now()
}

func (c *Clock) boundSerialLocked() types.Serial {
	if c.queueSerial == nil {
		return c.serial
	}
	return c.queueSerial.GetSerial()
}

// GetSerial returns the serial the clock was last anchored with.
func (c *Clock) GetSerial() types.Serial {
	return c.Serial(context.Background())
}

func (c *Clock) Serial(ctx context.Context) types.Serial {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &c.Locker, func() types.Serial {
		return c.serial
	})
}

func (c *Clock) Speed(ctx context.Context) float64 {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &c.Locker, func() float64 {
		return c.speed
	})
}

func (c *Clock) IsPaused(ctx context.Context) bool {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &c.Locker, func() bool {
		return c.paused
	})
}

// LastUpdated returns the wall-clock instant of the last anchoring.
func (c *Clock) LastUpdated(ctx context.Context) time.Duration {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &c.Locker, func() time.Duration {
		return c.lastUpdated
	})
}

// Get returns the current position of the timeline.
//
// No value is returned if the epoch the clock was anchored in is gone
// (the bound queue was flushed since) or if the clock was never anchored
// to a valid timestamp.
func (c *Clock) Get(ctx context.Context) typing.Optional[time.Duration] {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &c.Locker, func() typing.Optional[time.Duration] {
		return c.getLocked(c.now())
	})
}

// getWithSerial returns the current position together with the serial it
// was anchored with, taken in one critical section.
func (c *Clock) getWithSerial(ctx context.Context) (typing.Optional[time.Duration], types.Serial) {
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &c.Locker, func() (typing.Optional[time.Duration], types.Serial) {
		return c.getLocked(c.now()), c.serial
	})
}

func (c *Clock) getLocked(now time.Duration) typing.Optional[time.Duration] {
	if c.boundSerialLocked() != c.serial {
		return typing.Optional[time.Duration]{}
	}
	if !c.pts.IsSet() {
		return typing.Optional[time.Duration]{}
	}
	if c.paused {
		return c.pts
	}
	elapsed := now - c.lastUpdated
	return typing.Opt(c.ptsDrift + now - time.Duration(float64(elapsed)*(1.0-c.speed)))
}

// SetAt anchors the clock at pts at the wall-clock instant t.
func (c *Clock) SetAt(
	ctx context.Context,
	pts typing.Optional[time.Duration],
	serial types.Serial,
	t time.Duration,
) {
	c.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		c.setAtLocked(pts, serial, t)
	})
}

// Set anchors the clock at pts now.
func (c *Clock) Set(
	ctx context.Context,
	pts typing.Optional[time.Duration],
	serial types.Serial,
) {
	c.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		c.setAtLocked(pts, serial, c.now())
	})
}

func (c *Clock) setAtLocked(
	pts typing.Optional[time.Duration],
	serial types.Serial,
	t time.Duration,
) {
	c.pts = pts
	c.lastUpdated = t
	if pts.IsSet() {
		c.ptsDrift = pts.Get() - t
	} else {
		c.ptsDrift = 0
	}
	c.serial = serial
}

// SetSpeed changes the playback rate. The clock is re-anchored at its
// current value first, so the reported time is continuous across the change.
func (c *Clock) SetSpeed(
	ctx context.Context,
	speed float64,
) {
	logger.Debugf(ctx, "SetSpeed(%f)", speed)
	c.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		now := c.now()
		c.setAtLocked(c.getLocked(now), c.serial, now)
		c.speed = speed
	})
}

// SetPaused freezes or unfreezes the clock. Like SetSpeed it re-anchors
// first, so that playback resumes from the position it was paused at.
func (c *Clock) SetPaused(
	ctx context.Context,
	paused bool,
) {
	logger.Debugf(ctx, "SetPaused(%t)", paused)
	c.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		if c.paused == paused {
			return
		}
		now := c.now()
		c.setAtLocked(c.getLocked(now), c.serial, now)
		c.paused = paused
	})
}
