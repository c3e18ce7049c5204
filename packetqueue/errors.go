package packetqueue

import (
	"errors"
)

var (
	// ErrAborted is returned by Get and Put once Abort was requested and
	// until the next Start.
	ErrAborted = errors.New("the packet queue is aborted")

	// ErrWouldBlock is returned by a non-blocking Get on an empty queue.
	ErrWouldBlock = errors.New("the packet queue is empty")
)
