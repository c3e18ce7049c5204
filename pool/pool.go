// pool.go implements a generic object pool with finalizers.

// Package pool provides a generic object pool for payloads that wrap
// C-allocated memory: the memory is released by a finalizer once the pool
// drops an object.
package pool

import (
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// ReuseMemory disables recycling when false; every Put then just drops
// the object to its finalizer.
var ReuseMemory = atomic.NewBool(true)

type Pool[T any] struct {
	pool      sync.Pool
	resetFunc func(*T)

	allocated atomic.Uint64
	acquired  atomic.Uint64
	released  atomic.Uint64
}

// Statistics is a snapshot of the pool counters.
type Statistics struct {
	Allocated uint64
	Acquired  uint64
	Released  uint64
}

// InUse is the amount of objects acquired and not released yet.
func (s Statistics) InUse() uint64 {
	if s.Released > s.Acquired {
		return 0
	}
	return s.Acquired - s.Released
}

func (s Statistics) String() string {
	return fmt.Sprintf("allocated:%d; in use:%d", s.Allocated, s.InUse())
}

func NewPool[T any](
	allocFunc func() *T,
	resetFunc func(*T),
	freeFunc func(*T),
) *Pool[T] {
	p := &Pool[T]{
		resetFunc: resetFunc,
	}
	p.pool.New = func() any {
		p.allocated.Inc()
		v := allocFunc()
		runtime.SetFinalizer(v, func(v *T) {
			freeFunc(v)
		})
		return v
	}
	return p
}

func (p *Pool[T]) Get() *T {
	p.acquired.Inc()
	return p.pool.Get().(*T)
}

func (p *Pool[T]) Put(items ...*T) {
	for _, item := range items {
		if item == nil {
			continue
		}
		p.released.Inc()
		if !ReuseMemory.Load() {
			continue
		}
		p.resetFunc(item)
		p.pool.Put(item)
	}
}

func (p *Pool[T]) Stats() Statistics {
	return Statistics{
		Allocated: p.allocated.Load(),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
	}
}
