// closure_signaler.go provides a one-shot "it is over" signal carrying the final error.

// Package closuresignaler provides a one-shot signal that a worker has
// stopped, together with the error it stopped with.
package closuresignaler

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avplayer/logger"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
	err       error
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

// CloseChan returns a channel that is closed once Close is called.
func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

// Close signals the closure with no error.
func (c *ClosureSignaler) Close(ctx context.Context) {
	c.CloseWithError(ctx, nil)
}

// CloseWithError signals the closure. Only the first call has any effect.
func (c *ClosureSignaler) CloseWithError(ctx context.Context, err error) {
	logger.Debugf(ctx, "CloseWithError(ctx, %v)", err)
	defer func() { logger.Debugf(ctx, "/CloseWithError(ctx, %v)", err) }()
	c.closeOnce.Do(func() {
		c.err = err
		close(c.c)
	})
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}

// Err returns the error passed on the closure; it is nil until the
// signaler is closed.
func (c *ClosureSignaler) Err() error {
	if !c.IsClosed() {
		return nil
	}
	return c.err
}
