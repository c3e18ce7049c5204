package clock

import (
	"time"
)

// TimeSource is the wall-clock a Clock extrapolates against. Only
// differences between two Now() values are meaningful.
type TimeSource interface {
	Now() time.Duration
}

var processStartTime = time.Now()

// MonotonicTime is the default TimeSource: the monotonic time elapsed since
// the process start.
type MonotonicTime struct{}

var _ TimeSource = MonotonicTime{}

func (MonotonicTime) Now() time.Duration {
	return time.Since(processStartTime)
}
