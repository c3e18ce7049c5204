// change_signal.go provides a broadcast wakeup built on closing and replacing a channel.

// Package changesignal provides a broadcast "state has changed" signal.
//
// It plays the role of a condition variable for code that waits with
// select: a waiter takes Chan() while holding its own lock, releases the
// lock, and waits for the channel to be closed (or for its context to be
// done), then re-checks its predicate.
package changesignal

import (
	"github.com/go-ng/xatomic"
)

type ChangeSignal struct {
	ch *chan struct{}
}

func New() *ChangeSignal {
	return &ChangeSignal{
		ch: ptr(make(chan struct{})),
	}
}

// Chan returns a channel that gets closed by the next Broadcast.
func (s *ChangeSignal) Chan() <-chan struct{} {
	return *xatomic.LoadPointer(&s.ch)
}

// Broadcast wakes up everybody waiting on a previously returned Chan().
func (s *ChangeSignal) Broadcast() {
	close(*xatomic.SwapPointer(&s.ch, ptr(make(chan struct{}))))
}

func ptr[T any](v T) *T {
	return &v
}
