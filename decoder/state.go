package decoder

import (
	"fmt"
)

// State is the state of the decoding loop:
//
//	Idle -> Running <-> Flushing
//	        Running <-> Finished
//
// Aborted is reachable from any state and is terminal. Finished is left
// back to Running once a new epoch starts; it is terminal only if it was
// caused by a codec failure.
type State int32

const (
	UndefinedState = State(iota)
	StateIdle
	StateRunning
	StateFlushing
	StateFinished
	StateAborted
	EndOfState
)

func (s State) String() string {
	switch s {
	case UndefinedState:
		return "<undefined>"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFlushing:
		return "flushing"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
