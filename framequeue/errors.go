package framequeue

import (
	"errors"
)

var (
	// ErrAborted is returned by the blocking peeks once the bound packet
	// queue is aborted or the frame queue is closed.
	ErrAborted = errors.New("the frame queue is aborted")
)
