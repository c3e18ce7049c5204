// packet_queue.go implements a thread-safe, serial-tagged FIFO of compressed units.

// Package packetqueue provides the queue between a demuxer and a decoder.
//
// Every queued item is tagged with the queue's current Serial. Flush drops
// everything and bumps the Serial, which is how a seek invalidates data that
// is already in flight further down the pipeline.
package packetqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/avplayer/helpers/changesignal"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

const (
	compactThreshold = 64
)

type PacketQueue[P types.Packet] struct {
	Locker xsync.Mutex
	Config Config[P]

	items     []Item[P]
	head      int
	nbPackets int
	size      int
	duration  time.Duration

	serial       atomic.Int64
	aborted      atomic.Bool
	abortChan    *chan struct{}
	changeSignal *changesignal.ChangeSignal
}

var _ types.SerialSource = (*PacketQueue[types.Packet])(nil)

// New returns an empty queue at serial 0. The queue starts aborted:
// nothing can be put or got until Start is called.
func New[P types.Packet](
	ctx context.Context,
	opts ...Option[P],
) *PacketQueue[P] {
	abortChan := make(chan struct{})
	close(abortChan)
	q := &PacketQueue[P]{
		Config:       Options[P](opts).config(),
		abortChan:    &abortChan,
		changeSignal: changesignal.New(),
	}
	q.aborted.Store(true)
	return q
}

func (q *PacketQueue[P]) String() string {
	return fmt.Sprintf(
		"PacketQueue(%s; packets:%d; size:%s; dur:%v; aborted:%t)",
		q.GetSerial(), q.NbPackets(context.Background()),
		humanize.Bytes(uint64(q.Size(context.Background()))),
		q.Duration(context.Background()), q.IsAborted(),
	)
}

// GetSerial returns the current epoch. It does not take the lock,
// so it is safe to call while holding other queues' locks.
func (q *PacketQueue[P]) GetSerial() types.Serial {
	return types.Serial(q.serial.Load())
}

func (q *PacketQueue[P]) IsAborted() bool {
	return q.aborted.Load()
}

// AbortChan returns a channel that is closed while the queue is aborted.
// Waiters on other queues select on it to be unblocked by Abort.
func (q *PacketQueue[P]) AbortChan() <-chan struct{} {
	return *xatomic.LoadPointer(&q.abortChan)
}

// Put appends the packet tagged with the current serial.
//
// If the queue is aborted the packet is released and ErrAborted is returned.
func (q *PacketQueue[P]) Put(
	ctx context.Context,
	pkt P,
) error {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &q.Locker, func() error {
		return q.putLocked(ctx, Item[P]{Packet: pkt})
	})
}

// PutEndOfStream enqueues the end-of-stream sentinel for the given stream.
// Unlike Flush it does not start a new epoch: the decoder drains the codec
// when it reaches the sentinel.
func (q *PacketQueue[P]) PutEndOfStream(
	ctx context.Context,
	streamIndex int,
) error {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &q.Locker, func() error {
		return q.putLocked(ctx, Item[P]{
			StreamIndex:   streamIndex,
			IsEndOfStream: true,
		})
	})
}

func (q *PacketQueue[P]) putLocked(
	ctx context.Context,
	item Item[P],
) error {
	if q.aborted.Load() {
		logger.Tracef(ctx, "put into an aborted queue: %s", &item)
		if !item.IsEndOfStream {
			q.Config.ReleaseFunc(item.Packet)
		}
		return ErrAborted
	}

	item.Serial = q.GetSerial()
	q.items = append(q.items, item)
	q.nbPackets++
	q.size += item.size()
	if !item.IsEndOfStream {
		q.duration += item.Packet.GetDuration()
	}
	logger.Tracef(ctx, "put %s; packets:%d; size:%d", &item, q.nbPackets, q.size)
	q.changeSignal.Broadcast()
	return nil
}

// Get removes the head of the queue and returns it together with the
// serial it was enqueued under.
//
// An aborted queue returns ErrAborted without blocking. An empty queue
// returns ErrWouldBlock if block is false, otherwise Get waits until
// something is put, the queue is aborted or ctx is done.
func (q *PacketQueue[P]) Get(
	ctx context.Context,
	block bool,
) (_ret Item[P], _err error) {
	lockCtx := xsync.WithNoLogging(ctx, true)
	q.Locker.ManualLock(lockCtx)
	defer q.Locker.ManualUnlock(lockCtx)

	for {
		if q.aborted.Load() {
			return _ret, ErrAborted
		}
		if q.nbPackets > 0 {
			return q.popLocked(ctx), nil
		}
		if !block {
			return _ret, ErrWouldBlock
		}

		changeCh := q.changeSignal.Chan()
		abortCh := q.AbortChan()
		q.Locker.ManualUnlock(lockCtx)
		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-changeCh:
		case <-abortCh:
		}
		q.Locker.ManualLock(lockCtx)
		if err != nil {
			return _ret, err
		}
	}
}

func (q *PacketQueue[P]) popLocked(
	ctx context.Context,
) Item[P] {
	assert(ctx, q.head < len(q.items), q.head, len(q.items))
	item := q.items[q.head]
	q.items[q.head] = Item[P]{}
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	q.nbPackets--
	q.size -= item.size()
	if !item.IsEndOfStream {
		q.duration -= item.Packet.GetDuration()
	}
	assert(ctx, q.nbPackets == len(q.items)-q.head, q.nbPackets, len(q.items), q.head)
	logger.Tracef(ctx, "got %s; packets:%d; size:%d", &item, q.nbPackets, q.size)
	return item
}

// Flush drops every queued packet and starts a new epoch.
// The abort state is left as is.
func (q *PacketQueue[P]) Flush(ctx context.Context) {
	logger.Debugf(ctx, "Flush")
	defer func() { logger.Debugf(ctx, "/Flush") }()
	q.Locker.Do(ctx, func() {
		q.flushLocked(ctx)
	})
}

func (q *PacketQueue[P]) flushLocked(ctx context.Context) {
	for idx := q.head; idx < len(q.items); idx++ {
		item := &q.items[idx]
		if !item.IsEndOfStream {
			q.Config.ReleaseFunc(item.Packet)
		}
	}
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	q.nbPackets = 0
	q.size = 0
	q.duration = 0
	newSerial := q.GetSerial().Next()
	q.serial.Store(int64(newSerial))
	logger.Debugf(ctx, "new epoch: %s", newSerial)
	q.changeSignal.Broadcast()
}

// Abort makes every current and future Get/Put fail with ErrAborted
// until Start is called, and wakes up everybody who waits on the queue.
func (q *PacketQueue[P]) Abort(ctx context.Context) {
	logger.Debugf(ctx, "Abort")
	defer func() { logger.Debugf(ctx, "/Abort") }()
	q.Locker.Do(ctx, func() {
		if !q.aborted.CompareAndSwap(false, true) {
			return
		}
		close(*xatomic.LoadPointer(&q.abortChan))
		q.changeSignal.Broadcast()
	})
}

// Start clears the abort request and starts a new epoch, so that
// everything produced after the restart is distinguishable.
func (q *PacketQueue[P]) Start(ctx context.Context) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start") }()
	q.Locker.Do(ctx, func() {
		if q.aborted.Load() {
			xatomic.StorePointer(&q.abortChan, ptr(make(chan struct{})))
			q.aborted.Store(false)
		}
		q.serial.Store(int64(q.GetSerial().Next()))
		q.changeSignal.Broadcast()
	})
}

// Close flushes the queue and leaves it aborted. The queue must not be
// used afterwards.
func (q *PacketQueue[P]) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close") }()
	q.Locker.Do(ctx, func() {
		q.flushLocked(ctx)
		q.items = nil
		if q.aborted.CompareAndSwap(false, true) {
			close(*xatomic.LoadPointer(&q.abortChan))
		}
		q.changeSignal.Broadcast()
	})
	return nil
}

func (q *PacketQueue[P]) NbPackets(ctx context.Context) int {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &q.Locker, func() int {
		return q.nbPackets
	})
}

// Size returns the total payload size of the queued packets, in bytes.
func (q *PacketQueue[P]) Size(ctx context.Context) int {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &q.Locker, func() int {
		return q.size
	})
}

// Duration returns the total presentation duration of the queued packets.
func (q *PacketQueue[P]) Duration(ctx context.Context) time.Duration {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &q.Locker, func() time.Duration {
		return q.duration
	})
}

// HasEnoughPackets reports whether the producer may stop reading for now:
// the queue is aborted, or it holds more than minPackets packets and
// (if durations are known) more than minDuration of data.
func (q *PacketQueue[P]) HasEnoughPackets(
	ctx context.Context,
	minPackets int,
	minDuration time.Duration,
) bool {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &q.Locker, func() bool {
		if q.aborted.Load() {
			return true
		}
		return q.nbPackets > minPackets && (q.duration == 0 || q.duration > minDuration)
	})
}

func (q *PacketQueue[P]) Stats(ctx context.Context) Statistics {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &q.Locker, func() Statistics {
		return Statistics{
			NbPackets: q.nbPackets,
			Size:      q.size,
			Duration:  q.duration,
			Serial:    q.GetSerial(),
			IsAborted: q.aborted.Load(),
		}
	})
}
