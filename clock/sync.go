// sync.go implements the policies reconciling one clock against another.

package clock

import (
	"context"
	"time"

	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/typing"
)

const (
	// NoSyncThreshold is the divergence after which SyncToSlave gives up on
	// gradual correction and re-anchors the clock. It only catches
	// pathological stalls (slow seeks, buffering), not regular jitter.
	NoSyncThreshold = 10 * time.Second
)

const (
	// SyncThresholdMin and SyncThresholdMax bound the divergence ComputeTargetDelay tolerates.
	SyncThresholdMin = 40 * time.Millisecond
	SyncThresholdMax = 100 * time.Millisecond

	// FrameDupThreshold is the frame duration above which a late frame
	// is compensated by stretching its delay instead of doubling it.
	FrameDupThreshold = 100 * time.Millisecond
)

// SyncToSlave re-anchors c to slave's value and serial if c has no value
// or drifted away from slave by more than NoSyncThreshold. Nothing happens
// if slave itself has no value. It returns true if c was re-anchored.
//
// The two clocks are locked one after another, never together. The value
// and the serial of slave are read in a single snapshot.
func SyncToSlave(
	ctx context.Context,
	c *Clock,
	slave *Clock,
) bool {
	value := c.Get(ctx)
	slaveValue, slaveSerial := slave.getWithSerial(ctx)
	if !slaveValue.IsSet() {
		return false
	}
	if value.IsSet() && absDuration(value.Get()-slaveValue.Get()) <= NoSyncThreshold {
		return false
	}
	logger.Debugf(ctx, "re-anchoring the clock %v to %v (%s)", value, slaveValue.Get(), slaveSerial)
	c.Set(ctx, slaveValue, slaveSerial)
	return true
}

// ComputeTargetDelay returns how long the current video frame should stay
// on screen, given its nominal delay and the divergence diff of the video
// clock from the master clock (positive: video is ahead).
//
// Divergences larger than maxFrameDuration are treated as a timestamp
// discontinuity and ignored.
func ComputeTargetDelay(
	delay time.Duration,
	diff typing.Optional[time.Duration],
	maxFrameDuration time.Duration,
) time.Duration {
	if !diff.IsSet() {
		return delay
	}
	d := diff.Get()
	if absDuration(d) >= maxFrameDuration {
		return delay
	}

	syncThreshold := max(SyncThresholdMin, min(SyncThresholdMax, delay))
	switch {
	case d <= -syncThreshold:
		return max(0, delay+d)
	case d >= syncThreshold && delay > FrameDupThreshold:
		return delay + d
	case d >= syncThreshold:
		return 2 * delay
	}
	return delay
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
