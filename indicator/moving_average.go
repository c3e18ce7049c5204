// moving_average.go defines the MovingAverage interface.

// Package indicator provides smoothing of noisy measurements, such as the
// drift between the audio and the video clocks.
package indicator

import (
	"golang.org/x/exp/constraints"
)

type MovingAverage[T constraints.Integer | constraints.Float] interface {
	Update(v T) T
	InitPeriod() int64
	Valid() bool
}
