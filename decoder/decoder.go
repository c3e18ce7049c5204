// decoder.go implements the worker that moves data from a packet queue through a codec into a frame queue.

// Package decoder provides the per-stream decoding worker.
//
// The worker pulls packets from a PacketQueue, feeds them to a codec and
// publishes the decoded frames into a FrameQueue, tagged with the serial
// of the packets they were decoded from. A serial change (a flush of the
// packet queue) resets the codec, so that nothing decoded before a seek
// leaks into the new epoch.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xaionaro-go/avplayer/codec"
	"github.com/xaionaro-go/avplayer/framequeue"
	"github.com/xaionaro-go/avplayer/helpers/changesignal"
	"github.com/xaionaro-go/avplayer/helpers/closuresignaler"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/packetqueue"
	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

type Decoder[P types.Packet, F any] struct {
	Locker      xsync.Mutex
	Config      Config
	Codec       codec.Decoder[P, F]
	PacketQueue *packetqueue.PacketQueue[P]
	FrameQueue  *framequeue.FrameQueue[F]

	// EmptyQueueNotifier (if set) is broadcast whenever the decoder is
	// about to wait on an empty packet queue, so that the demuxer knows
	// which stream to prioritize.
	EmptyQueueNotifier *changesignal.ChangeSignal

	state     atomic.Int32
	pktSerial atomic.Int64
	finished  atomic.Int64
	isStarted atomic.Bool
	isClosed  bool
	done      *closuresignaler.ClosureSignaler

	// owned by the decoding loop:
	pending typing.Optional[packetqueue.Item[P]]
	nextPTS typing.Optional[time.Duration]
	scratch F
}

// New binds a decoder to its codec and queues. Nothing runs until Start
// (or Serve) is called.
func New[P types.Packet, F any](
	ctx context.Context,
	codec codec.Decoder[P, F],
	pktq *packetqueue.PacketQueue[P],
	frameq *framequeue.FrameQueue[F],
	emptyQueueNotifier *changesignal.ChangeSignal,
	opts ...Option,
) *Decoder[P, F] {
	d := &Decoder[P, F]{
		Config:             Options(opts).config(),
		Codec:              codec,
		PacketQueue:        pktq,
		FrameQueue:         frameq,
		EmptyQueueNotifier: emptyQueueNotifier,
		done:               closuresignaler.New(),
	}
	d.state.Store(int32(StateIdle))
	d.finished.Store(int64(types.SerialInvalid))
	d.nextPTS = d.Config.StartPTS
	if alloc := frameq.Allocator.Alloc; alloc != nil {
		d.scratch = alloc()
	}
	return d
}

func (d *Decoder[P, F]) String() string {
	return fmt.Sprintf("Decoder(%s; %s)", d.State(), d.PacketSerial())
}

func (d *Decoder[P, F]) State() State {
	return State(d.state.Load())
}

func (d *Decoder[P, F]) setState(ctx context.Context, state State) {
	oldState := State(d.state.Swap(int32(state)))
	if oldState != state {
		logger.Debugf(ctx, "state: %s -> %s", oldState, state)
	}
}

// PacketSerial returns the serial of the packet the decoder handled last.
func (d *Decoder[P, F]) PacketSerial() types.Serial {
	return types.Serial(d.pktSerial.Load())
}

// Finished returns the serial the codec was fully drained for, if any.
func (d *Decoder[P, F]) Finished() (types.Serial, bool) {
	serial := types.Serial(d.finished.Load())
	return serial, serial != types.SerialInvalid
}

// IsFinished reports whether the codec was fully drained for the live
// epoch of the packet queue.
func (d *Decoder[P, F]) IsFinished() bool {
	serial, ok := d.Finished()
	return ok && serial == d.PacketQueue.GetSerial()
}

// Start starts the packet queue and runs the decoding loop in the
// background. The result of the loop is returned by Wait.
func (d *Decoder[P, F]) Start(ctx context.Context) error {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start") }()
	if !d.isStarted.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	d.PacketQueue.Start(ctx)
	observability.Go(ctx, func(ctx context.Context) {
		_ = d.run(ctx)
	})
	return nil
}

// Serve is Start running the decoding loop in the current goroutine. It
// returns when the packet queue is aborted (nil), ctx is done (ctx.Err())
// or the codec fails (ErrCodecFailure).
func (d *Decoder[P, F]) Serve(ctx context.Context) error {
	if !d.isStarted.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	d.PacketQueue.Start(ctx)
	return d.run(ctx)
}

func (d *Decoder[P, F]) run(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "run")
	defer func() { logger.Debugf(ctx, "/run: %v", _err) }()
	defer func() { d.done.CloseWithError(ctx, _err) }()
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("unable to start the decoder in state %s", d.State())
	}

	for {
		info, err := d.decodeFrame(ctx)
		if err == nil {
			err = d.pushFrame(ctx, info)
		}
		if err == nil {
			continue
		}

		var codecErr ErrCodecFailure
		switch {
		case errors.Is(err, packetqueue.ErrAborted), errors.Is(err, framequeue.ErrAborted):
			d.setState(ctx, StateAborted)
			return nil
		case errors.As(err, &codecErr):
			logger.Errorf(ctx, "%v", err)
			d.finished.Store(int64(d.PacketSerial()))
			d.setState(ctx, StateFinished)
			return err
		case ctx.Err() != nil:
			d.setState(ctx, StateAborted)
			return ctx.Err()
		default:
			d.setState(ctx, StateAborted)
			return fmt.Errorf("unexpected error: %w", err)
		}
	}
}

// decodeFrame returns as soon as the codec yields a frame into d.scratch.
func (d *Decoder[P, F]) decodeFrame(ctx context.Context) (codec.FrameInfo, error) {
	for {
		if d.PacketQueue.GetSerial() == d.PacketSerial() {
			info, err := d.receiveFrame(ctx)
			switch {
			case err == nil:
				return info, nil
			case errors.Is(err, codec.ErrWouldBlock), errors.Is(err, io.EOF):
			default:
				return codec.FrameInfo{}, err
			}
		}

		item, err := d.fetchPacket(ctx)
		if err != nil {
			return codec.FrameInfo{}, err
		}
		if err := d.sendPacket(ctx, item); err != nil {
			return codec.FrameInfo{}, err
		}
	}
}

// receiveFrame returns nil, codec.ErrWouldBlock (the codec needs more
// input), io.EOF (the codec got drained) or a fatal error.
func (d *Decoder[P, F]) receiveFrame(ctx context.Context) (codec.FrameInfo, error) {
	if d.PacketQueue.IsAborted() {
		return codec.FrameInfo{}, packetqueue.ErrAborted
	}
	info, err := d.Codec.ReceiveFrame(ctx, d.scratch)
	switch {
	case err == nil:
		return d.fixTimestamps(info), nil
	case errors.Is(err, codec.ErrWouldBlock):
		return codec.FrameInfo{}, err
	case errors.Is(err, io.EOF):
		serial := d.PacketSerial()
		logger.Debugf(ctx, "the codec is drained for %s", serial)
		d.finished.Store(int64(serial))
		d.setState(ctx, StateFinished)
		if err := d.Codec.Flush(ctx); err != nil {
			return codec.FrameInfo{}, ErrCodecFailure{Op: "flush", Err: err}
		}
		return codec.FrameInfo{}, io.EOF
	default:
		return codec.FrameInfo{}, ErrCodecFailure{Op: "receive", Err: err}
	}
}

func (d *Decoder[P, F]) fixTimestamps(info codec.FrameInfo) codec.FrameInfo {
	if !info.PTS.IsSet() {
		info.PTS = d.nextPTS
	}
	if info.PTS.IsSet() {
		d.nextPTS = typing.Opt(info.PTS.Get() + info.Duration)
	}
	return info
}

// fetchPacket returns the pending packet or the next packet of the live
// epoch. Packets of dead epochs and packets following the end of stream
// of the current epoch are dropped.
func (d *Decoder[P, F]) fetchPacket(ctx context.Context) (packetqueue.Item[P], error) {
	for {
		if d.EmptyQueueNotifier != nil && d.PacketQueue.NbPackets(ctx) == 0 {
			d.EmptyQueueNotifier.Broadcast()
		}

		var item packetqueue.Item[P]
		if d.pending.IsSet() {
			item = d.pending.Get()
			d.pending = typing.Optional[packetqueue.Item[P]]{}
		} else {
			var err error
			item, err = d.PacketQueue.Get(ctx, true)
			if err != nil {
				return item, err
			}
			if item.Serial != d.PacketSerial() {
				if err := d.startEpoch(ctx, item.Serial); err != nil {
					d.release(item)
					return item, err
				}
			}
		}

		if item.Serial != d.PacketQueue.GetSerial() {
			logger.Tracef(ctx, "dropping stale %s", &item)
			d.release(item)
			continue
		}
		if finished, ok := d.Finished(); ok && finished == item.Serial {
			logger.Tracef(ctx, "dropping %s: the epoch is already finished", &item)
			d.release(item)
			continue
		}
		return item, nil
	}
}

func (d *Decoder[P, F]) startEpoch(
	ctx context.Context,
	serial types.Serial,
) error {
	logger.Debugf(ctx, "new epoch: %s -> %s", d.PacketSerial(), serial)
	d.setState(ctx, StateFlushing)
	d.pktSerial.Store(int64(serial))
	if err := d.Codec.Flush(ctx); err != nil {
		return ErrCodecFailure{Op: "flush", Err: err}
	}
	d.finished.Store(int64(types.SerialInvalid))
	d.nextPTS = d.Config.StartPTS
	d.setState(ctx, StateRunning)
	return nil
}

func (d *Decoder[P, F]) sendPacket(
	ctx context.Context,
	item packetqueue.Item[P],
) error {
	var err error
	if item.IsEndOfStream {
		err = d.Codec.SendEndOfStream(ctx)
	} else {
		err = d.Codec.SendPacket(ctx, item.Packet)
	}
	switch {
	case err == nil:
		d.release(item)
		return nil
	case errors.Is(err, codec.ErrWouldBlock):
		// the output was just drained, so the codec must have accepted the input
		logger.Errorf(ctx, "both receiving and sending returned 'would block'; retrying %s later", &item)
		d.pending = typing.Opt(item)
		return nil
	default:
		d.release(item)
		return ErrCodecFailure{Op: "send", Err: err}
	}
}

func (d *Decoder[P, F]) release(item packetqueue.Item[P]) {
	if item.IsEndOfStream {
		return
	}
	d.PacketQueue.Config.ReleaseFunc(item.Packet)
}

func (d *Decoder[P, F]) pushFrame(
	ctx context.Context,
	info codec.FrameInfo,
) error {
	slot, err := d.FrameQueue.PeekWritable(ctx)
	if err != nil {
		return err
	}
	slot.Payload, d.scratch = d.scratch, slot.Payload
	slot.Serial = d.PacketSerial()
	slot.PTS = info.PTS
	slot.Duration = info.Duration
	slot.Pos = info.Pos
	slot.Format = info.Format
	slot.Uploaded = false
	d.FrameQueue.Push(ctx)
	return nil
}

// Wait waits for the decoding loop to exit and returns its error, if any.
// It returns immediately if the loop was never started.
func (d *Decoder[P, F]) Wait(ctx context.Context) error {
	if !d.isStarted.Load() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done.CloseChan():
	}
	return d.done.Err()
}

// Abort stops the decoding loop: it aborts the packet queue, wakes up
// the frame queue waiters, waits for the loop to exit and drops whatever
// is still queued.
func (d *Decoder[P, F]) Abort(ctx context.Context) error {
	logger.Debugf(ctx, "Abort")
	defer func() { logger.Debugf(ctx, "/Abort") }()
	d.PacketQueue.Abort(ctx)
	d.FrameQueue.Signal(ctx)
	err := d.Wait(ctx)
	d.PacketQueue.Flush(ctx)
	if !d.isStarted.Load() {
		d.setState(ctx, StateAborted)
	}
	return err
}

// isLoopRunning reports whether the decoding loop was started and did
// not exit yet.
func (d *Decoder[P, F]) isLoopRunning() bool {
	return d.isStarted.Load() && !d.done.IsClosed()
}

// Close aborts the decoder and releases the codec. The codec error, if
// the loop stopped due to it, is returned.
//
// The codec and the scratch payload are never released under a running
// loop: if ctx is done before the loop exits, Close returns an error
// wrapping ctx.Err() and the release happens in the background once the
// loop is gone.
func (d *Decoder[P, F]) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	alreadyClosed := xsync.DoR1(ctx, &d.Locker, func() bool {
		wasClosed := d.isClosed
		d.isClosed = true
		return wasClosed
	})
	if alreadyClosed {
		return ErrClosed
	}

	loopErr := d.Abort(ctx)
	if d.isLoopRunning() {
		logger.Warnf(ctx, "the decoding loop is still running (%v); deferring the release of the codec", loopErr)
		observability.Go(xcontext.DetachDone(ctx), func(ctx context.Context) {
			<-d.done.CloseChan()
			if err := d.releaseResources(ctx); err != nil {
				logger.Errorf(ctx, "%v", err)
			}
		})
		return fmt.Errorf("the decoding loop did not exit: %w", loopErr)
	}
	if err := d.releaseResources(ctx); err != nil {
		return errors.Join(loopErr, err)
	}
	return loopErr
}

// releaseResources frees everything owned by the decoding loop. The loop
// must be stopped.
func (d *Decoder[P, F]) releaseResources(ctx context.Context) error {
	if d.pending.IsSet() {
		d.release(d.pending.Get())
		d.pending = typing.Optional[packetqueue.Item[P]]{}
	}
	if free := d.FrameQueue.Allocator.Free; free != nil {
		free(d.scratch)
	}
	var zero F
	d.scratch = zero
	if err := d.Codec.Close(ctx); err != nil {
		return fmt.Errorf("unable to close the codec: %w", err)
	}
	return nil
}
