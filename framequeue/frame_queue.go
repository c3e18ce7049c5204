// frame_queue.go implements a bounded ring of decoded frames shared by a decoder and a renderer.

// Package framequeue provides the bounded queue between a decoder and a renderer.
//
// The queue is a ring of pre-allocated slots: the decoder fills the slot
// returned by PeekWritable in place and commits it with Push, the renderer
// looks at PeekReadable/Peek/PeekNext and releases a slot with Next. With
// keep-last enabled the most recently consumed frame stays in its slot (see
// PeekLast), so a paused renderer still has something to show.
package framequeue

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avplayer/helpers/changesignal"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/xsync"
)

const (
	// MaxSize is the hard limit of slots of any FrameQueue.
	MaxSize = 16

	VideoPictureQueueSize = 3
	SubPictureQueueSize   = 16
	SampleQueueSize       = 9
)

// PacketQueue is the part of the upstream packet queue a FrameQueue
// depends on: its live serial and its abort state.
type PacketQueue interface {
	types.SerialSource
	IsAborted() bool
	AbortChan() <-chan struct{}
}

type FrameQueue[F any] struct {
	Locker    xsync.Mutex
	Allocator Allocator[F]

	pktq         PacketQueue
	queue        []Frame[F]
	rindex       int
	windex       int
	size         int
	maxSize      int
	keepLast     bool
	rindexShown  int
	isClosed     bool
	changeSignal *changesignal.ChangeSignal
}

// New returns an empty queue of maxSize slots (capped at MaxSize) bound
// to pktq. Every slot payload is allocated right away.
func New[F any](
	ctx context.Context,
	pktq PacketQueue,
	maxSize int,
	keepLast bool,
	allocator Allocator[F],
) *FrameQueue[F] {
	maxSize = max(1, min(maxSize, MaxSize))
	f := &FrameQueue[F]{
		Allocator:    allocator,
		pktq:         pktq,
		queue:        make([]Frame[F], maxSize),
		maxSize:      maxSize,
		keepLast:     keepLast,
		changeSignal: changesignal.New(),
	}
	for idx := range f.queue {
		slot := &f.queue[idx]
		if allocator.Alloc != nil {
			slot.Payload = allocator.Alloc()
		}
		slot.Serial = types.SerialInvalid
		slot.Pos = -1
	}
	logger.Debugf(ctx, "initialized %s", f)
	return f
}

func (f *FrameQueue[F]) String() string {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &f.Locker, func() string {
		return fmt.Sprintf(
			"FrameQueue(size:%d/%d; r:%d; w:%d; shown:%d; keepLast:%t)",
			f.size, f.maxSize, f.rindex, f.windex, f.rindexShown, f.keepLast,
		)
	})
}

func (f *FrameQueue[F]) MaxSize() int {
	return f.maxSize
}

func (f *FrameQueue[F]) KeepLast() bool {
	return f.keepLast
}

func (f *FrameQueue[F]) isAbortedLocked() bool {
	return f.isClosed || f.pktq.IsAborted()
}

// waitLocked waits until isReady returns true, re-checking it after every
// wakeup. The lock must be held with ManualLock(lockCtx).
func (f *FrameQueue[F]) waitLocked(
	ctx context.Context,
	lockCtx context.Context,
	isReady func() bool,
) error {
	for {
		if f.isAbortedLocked() {
			return ErrAborted
		}
		if isReady() {
			return nil
		}

		changeCh := f.changeSignal.Chan()
		abortCh := f.pktq.AbortChan()
		f.Locker.ManualUnlock(lockCtx)
		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-changeCh:
		case <-abortCh:
		}
		f.Locker.ManualLock(lockCtx)
		if err != nil {
			return err
		}
	}
}

// PeekWritable waits for a free slot and returns it for the caller to fill
// in place. The slot becomes visible to the reader only after Push.
//
// ErrAborted is returned once the bound packet queue is aborted.
func (f *FrameQueue[F]) PeekWritable(ctx context.Context) (*Frame[F], error) {
	lockCtx := xsync.WithNoLogging(ctx, true)
	f.Locker.ManualLock(lockCtx)
	defer f.Locker.ManualUnlock(lockCtx)
	if err := f.waitLocked(ctx, lockCtx, func() bool {
		return f.size < f.maxSize
	}); err != nil {
		return nil, err
	}
	return &f.queue[f.windex], nil
}

// Push commits the slot returned by the last PeekWritable.
func (f *FrameQueue[F]) Push(ctx context.Context) {
	f.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		assert(ctx, f.size < f.maxSize, f.size, f.maxSize)
		logger.Tracef(ctx, "push %s", &f.queue[f.windex])
		f.windex = (f.windex + 1) % f.maxSize
		f.size++
		f.changeSignal.Broadcast()
	})
}

// PeekReadable waits until there is a frame that was not shown yet and
// returns it without consuming it.
//
// ErrAborted is returned once the bound packet queue is aborted.
func (f *FrameQueue[F]) PeekReadable(ctx context.Context) (*Frame[F], error) {
	lockCtx := xsync.WithNoLogging(ctx, true)
	f.Locker.ManualLock(lockCtx)
	defer f.Locker.ManualUnlock(lockCtx)
	if err := f.waitLocked(ctx, lockCtx, func() bool {
		return f.size-f.rindexShown > 0
	}); err != nil {
		return nil, err
	}
	return &f.queue[(f.rindex+f.rindexShown)%f.maxSize], nil
}

// Peek returns the current frame, or nil if there is none.
func (f *FrameQueue[F]) Peek(ctx context.Context) *Frame[F] {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.Locker, func() *Frame[F] {
		if f.size-f.rindexShown < 1 {
			return nil
		}
		return &f.queue[(f.rindex+f.rindexShown)%f.maxSize]
	})
}

// PeekNext returns the frame after the current one, or nil if there is none.
func (f *FrameQueue[F]) PeekNext(ctx context.Context) *Frame[F] {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.Locker, func() *Frame[F] {
		if f.size-f.rindexShown < 2 {
			return nil
		}
		return &f.queue[(f.rindex+f.rindexShown+1)%f.maxSize]
	})
}

// PeekLast returns the most recently shown frame (or the current one if
// nothing was shown yet), or nil if the queue is empty.
func (f *FrameQueue[F]) PeekLast(ctx context.Context) *Frame[F] {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.Locker, func() *Frame[F] {
		if f.size == 0 {
			return nil
		}
		return &f.queue[f.rindex]
	})
}

// Next consumes the current frame.
//
// With keep-last enabled the very first call only marks the current frame
// as shown; from then on every call releases the previously shown frame and
// keeps the newly consumed one in its slot.
func (f *FrameQueue[F]) Next(ctx context.Context) {
	f.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		if f.size == 0 {
			logger.Warnf(ctx, "Next on an empty frame queue")
			return
		}
		if f.keepLast && f.rindexShown == 0 {
			f.rindexShown = 1
			return
		}
		slot := &f.queue[f.rindex]
		logger.Tracef(ctx, "release %s", slot)
		f.Allocator.unref(slot)
		f.rindex = (f.rindex + 1) % f.maxSize
		f.size--
		f.changeSignal.Broadcast()
	})
}

// NbRemaining returns the amount of frames that were not shown yet.
func (f *FrameQueue[F]) NbRemaining(ctx context.Context) int {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.Locker, func() int {
		return f.size - f.rindexShown
	})
}

// Size returns the amount of occupied slots, including the kept-last one.
func (f *FrameQueue[F]) Size(ctx context.Context) int {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.Locker, func() int {
		return f.size
	})
}

// LastPos returns the source byte offset of the most recently shown frame
// (or of the current one if nothing was shown yet). False is returned if
// there is no such frame or it belongs to a dead epoch.
func (f *FrameQueue[F]) LastPos(ctx context.Context) (int64, bool) {
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &f.Locker, func() (int64, bool) {
		if f.size == 0 {
			return -1, false
		}
		slot := &f.queue[f.rindex]
		if slot.Serial != f.pktq.GetSerial() || slot.Pos < 0 {
			return -1, false
		}
		return slot.Pos, true
	})
}

// IsStale reports whether the frame was decoded in an epoch that is
// already flushed away.
func (f *FrameQueue[F]) IsStale(frame *Frame[F]) bool {
	return frame.Serial != f.pktq.GetSerial()
}

// SkipStale consumes every readable frame of a dead epoch and returns how
// many were dropped.
func (f *FrameQueue[F]) SkipStale(ctx context.Context) int {
	count := 0
	for {
		frame := f.Peek(ctx)
		if frame == nil || !f.IsStale(frame) {
			break
		}
		logger.Tracef(ctx, "skipping stale %s", frame)
		f.Next(ctx)
		count++
	}
	if count > 0 {
		logger.Debugf(ctx, "skipped %d stale frames", count)
	}
	return count
}

// Signal wakes up everybody waiting on the queue without changing it,
// so that they re-check the abort state.
func (f *FrameQueue[F]) Signal(ctx context.Context) {
	f.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		f.changeSignal.Broadcast()
	})
}

// Close releases every payload and makes all current and future waits
// return ErrAborted. The queue must not be used afterwards.
func (f *FrameQueue[F]) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close") }()
	f.Locker.Do(ctx, func() {
		if f.isClosed {
			return
		}
		f.isClosed = true
		for idx := range f.queue {
			slot := &f.queue[idx]
			f.Allocator.unref(slot)
			if f.Allocator.Free != nil {
				f.Allocator.Free(slot.Payload)
			}
			var zero F
			slot.Payload = zero
		}
		f.size = 0
		f.rindexShown = 0
		f.changeSignal.Broadcast()
	})
	return nil
}
