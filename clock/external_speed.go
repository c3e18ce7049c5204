package clock

import (
	"context"
	"math"
)

const (
	ExternalClockMinFrames = 2
	ExternalClockMaxFrames = 10

	ExternalClockSpeedMin  = 0.900
	ExternalClockSpeedMax  = 1.010
	ExternalClockSpeedStep = 0.001
)

// AdjustExternalClockSpeed nudges the speed of the external clock according
// to the fill level of the packet queues of the active streams (one value
// per stream): it slows down if any of them is about to run dry, speeds up
// if all of them are well filled, and otherwise drifts back towards 1.0.
//
// It returns the new speed.
func AdjustExternalClockSpeed(
	ctx context.Context,
	ext *Clock,
	nbPackets ...int,
) float64 {
	speed := ext.Speed(ctx)

	starving, saturated := false, true
	for _, n := range nbPackets {
		if n <= ExternalClockMinFrames {
			starving = true
		}
		if n <= ExternalClockMaxFrames {
			saturated = false
		}
	}

	newSpeed := speed
	switch {
	case starving:
		newSpeed = math.Max(ExternalClockSpeedMin, speed-ExternalClockSpeedStep)
	case saturated:
		newSpeed = math.Min(ExternalClockSpeedMax, speed+ExternalClockSpeedStep)
	case speed != 1.0:
		newSpeed = speed + ExternalClockSpeedStep*(1.0-speed)/math.Abs(1.0-speed)
	}
	if newSpeed != speed {
		ext.SetSpeed(ctx, newSpeed)
	}
	return newSpeed
}
