// duration.go provides utilities for converting between FFmpeg timestamps and time.Duration.

// Package avconv provides conversion utilities between libav values and avplayer types.
package avconv

import (
	"math"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/typing"
)

const (
	// see https://ffmpeg.org/doxygen/trunk/group__lavu__time.html#ga2eaefe702f95f619ea6f2d08afa01be1
	avNoPTSValue = uint64(0x8000000000000000)
)

const (
	noDuration = time.Duration(math.MinInt64)
)

func init() {
	if avNoPTSValue != uint64(any(int64(math.MinInt64)).(int64)) { // to bypass the compiler check
		panic("avNoPTSValue changed")
	}
}

func Duration(t int64, timeBase astiav.Rational) time.Duration {
	if uint64(t) == avNoPTSValue {
		return noDuration
	}

	return time.Duration(float64(t) * timeBase.Float64() * float64(time.Second))
}

// OptionalDuration is Duration with AV_NOPTS_VALUE (and an unusable
// time base) mapped to no value.
func OptionalDuration(t int64, timeBase astiav.Rational) typing.Optional[time.Duration] {
	if uint64(t) == avNoPTSValue || timeBase.Num() == 0 || timeBase.Den() == 0 {
		return typing.Optional[time.Duration]{}
	}
	return typing.Opt(Duration(t, timeBase))
}

func FromDuration(d time.Duration, timeBase astiav.Rational) int64 {
	if d == noDuration {
		return math.MinInt64 // equivalent to avNoPTSValue
	}

	return int64(d.Seconds() / timeBase.Float64())
}

// FrameDuration returns the duration of one frame at the given frame
// rate, or zero if the frame rate is unknown.
func FrameDuration(frameRate astiav.Rational) time.Duration {
	if frameRate.Num() <= 0 || frameRate.Den() <= 0 {
		return 0
	}
	return time.Duration(float64(frameRate.Den()) / float64(frameRate.Num()) * float64(time.Second))
}

// SamplesDuration returns the duration of nbSamples audio samples.
func SamplesDuration(nbSamples int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(nbSamples) * time.Second / time.Duration(sampleRate)
}
