package decoder

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted = errors.New("the decoder was already started")
	ErrClosed         = errors.New("the decoder is closed")
)

// ErrCodecFailure is an unrecoverable codec error; decoding of the stream
// stops once it happens.
type ErrCodecFailure struct {
	Op  string
	Err error
}

func (e ErrCodecFailure) Error() string {
	return fmt.Sprintf("codec failure on %s: %v", e.Op, e.Err)
}

func (e ErrCodecFailure) Unwrap() error {
	return e.Err
}
