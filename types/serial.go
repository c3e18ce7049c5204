// serial.go defines the epoch counter used to invalidate queued and decoded data on flush.

package types

import (
	"fmt"
)

// Serial identifies a generation ("epoch") of queued or decoded data.
//
// It is bumped exactly when a queue is flushed, so anything tagged with an
// older Serial belongs to a discarded timeline. Serials are compared only
// for equality; they are not counts of anything.
type Serial int64

const (
	// SerialInvalid is the serial of data that belongs to no epoch at all
	// (for example a freshly initialized clock).
	SerialInvalid = Serial(-1)
)

// SerialSource provides the live serial of the epoch owner (usually a packet queue).
type SerialSource interface {
	GetSerial() Serial
}

func (s Serial) Next() Serial {
	return s + 1
}

func (s Serial) IsValid() bool {
	return s >= 0
}

func (s Serial) String() string {
	if !s.IsValid() {
		return "Serial(invalid)"
	}
	return fmt.Sprintf("Serial(%d)", int64(s))
}
