// packet.go defines the minimal contract a compressed unit must satisfy to be queued.

package types

import (
	"time"
)

// Packet is a compressed input unit as seen by the queues: only its
// accounting properties matter here, the payload stays opaque.
type Packet interface {
	// GetSize returns the payload size in bytes.
	GetSize() int

	// GetDuration returns the presentation duration of the unit,
	// or zero if it is unknown.
	GetDuration() time.Duration
}
