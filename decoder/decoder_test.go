package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avplayer/codec"
	"github.com/xaionaro-go/avplayer/framequeue"
	"github.com/xaionaro-go/avplayer/helpers/changesignal"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/packetqueue"
	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/typing"
)

const testFrameDuration = 40 * time.Millisecond

type fakePacket struct {
	ID  int
	PTS typing.Optional[time.Duration]

	locker   sync.Mutex
	released bool
}

func (p *fakePacket) GetSize() int               { return 100 }
func (p *fakePacket) GetDuration() time.Duration { return testFrameDuration }

func (p *fakePacket) IsReleased() bool {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.released
}

type fakeFrame struct {
	Value int
}

type fakeCodec struct {
	locker       sync.Mutex
	output       []*fakePacket
	isDraining   bool
	flushCount   int
	sendAttempts map[int]int
	refuseSends  int
	failOnID     int
	isClosed     bool
}

var _ codec.Decoder[*fakePacket, *fakeFrame] = (*fakeCodec)(nil)

func newFakeCodec() *fakeCodec {
	return &fakeCodec{
		sendAttempts: map[int]int{},
		failOnID:     -1,
	}
}

func (c *fakeCodec) SendPacket(ctx context.Context, pkt *fakePacket) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.sendAttempts[pkt.ID]++
	if pkt.ID == c.failOnID {
		return fmt.Errorf("corrupted packet %d", pkt.ID)
	}
	if c.refuseSends > 0 {
		c.refuseSends--
		return codec.ErrWouldBlock
	}
	c.output = append(c.output, pkt)
	return nil
}

func (c *fakeCodec) SendEndOfStream(ctx context.Context) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.isDraining = true
	return nil
}

func (c *fakeCodec) ReceiveFrame(ctx context.Context, frame *fakeFrame) (codec.FrameInfo, error) {
	c.locker.Lock()
	defer c.locker.Unlock()
	if len(c.output) == 0 {
		if c.isDraining {
			return codec.FrameInfo{}, io.EOF
		}
		return codec.FrameInfo{}, codec.ErrWouldBlock
	}
	pkt := c.output[0]
	c.output = c.output[1:]
	frame.Value = pkt.ID
	return codec.FrameInfo{
		PTS:      pkt.PTS,
		Duration: testFrameDuration,
		Pos:      int64(pkt.ID) * 1000,
		Format:   types.FrameFormat{MediaType: types.MediaTypeVideo, Width: 320, Height: 240},
	}, nil
}

func (c *fakeCodec) Flush(ctx context.Context) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.output = c.output[:0]
	c.isDraining = false
	c.flushCount++
	return nil
}

func (c *fakeCodec) Close(ctx context.Context) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.isClosed = true
	return nil
}

func (c *fakeCodec) FlushCount() int {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.flushCount
}

func (c *fakeCodec) SendAttempts(id int) int {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.sendAttempts[id]
}

type testEnv struct {
	Codec       *fakeCodec
	PacketQueue *packetqueue.PacketQueue[*fakePacket]
	FrameQueue  *framequeue.FrameQueue[*fakeFrame]
	Notifier    *changesignal.ChangeSignal
	Decoder     *Decoder[*fakePacket, *fakeFrame]

	locker sync.Mutex
	freed  int
}

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelTrace)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.SetDefault(func() logger.Logger {
		return l
	})
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

func newTestEnv(
	t *testing.T,
	ctx context.Context,
	frameQueueSize int,
	opts ...Option,
) *testEnv {
	env := &testEnv{
		Codec:    newFakeCodec(),
		Notifier: changesignal.New(),
	}
	env.PacketQueue = packetqueue.New[*fakePacket](ctx, packetqueue.OptionReleaseFunc[*fakePacket](func(p *fakePacket) {
		p.locker.Lock()
		defer p.locker.Unlock()
		p.released = true
	}))
	env.FrameQueue = framequeue.New(ctx, env.PacketQueue, frameQueueSize, false, framequeue.Allocator[*fakeFrame]{
		Alloc: func() *fakeFrame { return &fakeFrame{} },
		Unref: func(f *fakeFrame) { f.Value = 0 },
		Free: func(f *fakeFrame) {
			env.locker.Lock()
			defer env.locker.Unlock()
			env.freed++
		},
	})
	env.Decoder = New[*fakePacket, *fakeFrame](ctx, env.Codec, env.PacketQueue, env.FrameQueue, env.Notifier, opts...)
	t.Cleanup(func() {
		_ = env.Decoder.Close(ctx)
	})
	return env
}

func (env *testEnv) put(t *testing.T, ctx context.Context, pkts ...*fakePacket) {
	t.Helper()
	for _, pkt := range pkts {
		require.NoError(t, env.PacketQueue.Put(ctx, pkt))
	}
}

type receivedFrame struct {
	Value  int
	Serial types.Serial
	PTS    typing.Optional[time.Duration]
	Pos    int64
}

func (env *testEnv) read(t *testing.T, ctx context.Context) receivedFrame {
	t.Helper()
	ctx, cancelFn := context.WithTimeout(ctx, 5*time.Second)
	defer cancelFn()
	frame, err := env.FrameQueue.PeekReadable(ctx)
	require.NoError(t, err)
	result := receivedFrame{
		Value:  frame.Payload.Value,
		Serial: frame.Serial,
		PTS:    frame.PTS,
		Pos:    frame.Pos,
	}
	env.FrameQueue.Next(ctx)
	return result
}

func pkt(id int) *fakePacket {
	return &fakePacket{ID: id, PTS: typing.Opt(time.Duration(id) * testFrameDuration)}
}

func TestDecodeInOrder(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 3)
	require.Equal(t, StateIdle, env.Decoder.State())
	require.NoError(t, env.Decoder.Start(ctx))
	require.ErrorIs(t, env.Decoder.Start(ctx), ErrAlreadyStarted)
	serial := env.PacketQueue.GetSerial()

	var pkts []*fakePacket
	for i := 1; i <= 10; i++ {
		pkts = append(pkts, pkt(i))
	}
	env.put(t, ctx, pkts...)

	for i := 1; i <= 10; i++ {
		frame := env.read(t, ctx)
		require.Equal(t, i, frame.Value, spew.Sdump(frame))
		require.Equal(t, serial, frame.Serial)
		require.Equal(t, time.Duration(i)*testFrameDuration, frame.PTS.Get())
		require.Equal(t, int64(i)*1000, frame.Pos)
	}
	require.Eventually(t, func() bool {
		for _, p := range pkts {
			if !p.IsReleased() {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond, "decoded packets must be released")
	require.Equal(t, StateRunning, env.Decoder.State())
	require.Equal(t, serial, env.Decoder.PacketSerial())
	require.False(t, env.Decoder.IsFinished())
}

func TestNextPTSExtrapolation(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4, OptionStartPTS(time.Second))
	require.NoError(t, env.Decoder.Start(ctx))

	env.put(t, ctx, &fakePacket{ID: 1}, &fakePacket{ID: 2}, pkt(10), &fakePacket{ID: 11})
	require.Equal(t, time.Second, env.read(t, ctx).PTS.Get())
	require.Equal(t, time.Second+testFrameDuration, env.read(t, ctx).PTS.Get())
	require.Equal(t, 10*testFrameDuration, env.read(t, ctx).PTS.Get())
	require.Equal(t, 11*testFrameDuration, env.read(t, ctx).PTS.Get())

	// a new epoch restarts from the start PTS
	env.PacketQueue.Flush(ctx)
	env.put(t, ctx, &fakePacket{ID: 20})
	require.Equal(t, time.Second, env.read(t, ctx).PTS.Get())
}

func TestSerialChangeFlushesCodec(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 2)
	require.NoError(t, env.Decoder.Start(ctx))

	env.put(t, ctx, pkt(1), pkt(2), pkt(3), pkt(4), pkt(5))
	require.Equal(t, 1, env.read(t, ctx).Value)
	flushesBefore := env.Codec.FlushCount()

	env.PacketQueue.Flush(ctx)
	newSerial := env.PacketQueue.GetSerial()
	env.put(t, ctx, pkt(100), pkt(101))

	var fresh []int
	for len(fresh) < 2 {
		frame := env.read(t, ctx)
		if frame.Serial != newSerial {
			require.Less(t, frame.Value, 100, "a stale frame must come from the old epoch")
			continue
		}
		fresh = append(fresh, frame.Value)
	}
	require.Equal(t, []int{100, 101}, fresh)
	require.Greater(t, env.Codec.FlushCount(), flushesBefore)
	require.Equal(t, newSerial, env.Decoder.PacketSerial())
}

func TestEndOfStreamMarksFinished(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)
	require.NoError(t, env.Decoder.Start(ctx))

	env.put(t, ctx, pkt(1), pkt(2))
	require.NoError(t, env.PacketQueue.PutEndOfStream(ctx, 0))
	require.Equal(t, 1, env.read(t, ctx).Value)
	require.Equal(t, 2, env.read(t, ctx).Value)

	require.Eventually(t, env.Decoder.IsFinished, 5*time.Second, time.Millisecond)
	require.Equal(t, StateFinished, env.Decoder.State())
	finished, ok := env.Decoder.Finished()
	require.True(t, ok)
	require.Equal(t, env.PacketQueue.GetSerial(), finished)

	// the finished epoch does not consume anything anymore
	late := pkt(3)
	env.put(t, ctx, late)
	require.Eventually(t, late.IsReleased, 5*time.Second, time.Millisecond)
	require.Zero(t, env.Codec.SendAttempts(3))
	require.Zero(t, env.FrameQueue.NbRemaining(ctx))

	// a new epoch resumes decoding
	env.PacketQueue.Flush(ctx)
	require.False(t, env.Decoder.IsFinished())
	env.put(t, ctx, pkt(4))
	frame := env.read(t, ctx)
	require.Equal(t, 4, frame.Value)
	require.Equal(t, env.PacketQueue.GetSerial(), frame.Serial)
	require.Equal(t, StateRunning, env.Decoder.State())
}

func TestPendingPacketRetry(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)
	env.Codec.refuseSends = 2
	require.NoError(t, env.Decoder.Start(ctx))

	env.put(t, ctx, pkt(1), pkt(2))
	require.Equal(t, 1, env.read(t, ctx).Value)
	require.Equal(t, 2, env.read(t, ctx).Value)
	require.Equal(t, 3, env.Codec.SendAttempts(1))
	require.Equal(t, 1, env.Codec.SendAttempts(2))
}

func TestCodecFailureSurfacesThroughWait(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)
	env.Codec.failOnID = 2
	require.NoError(t, env.Decoder.Start(ctx))

	env.put(t, ctx, pkt(1), pkt(2), pkt(3))
	require.Equal(t, 1, env.read(t, ctx).Value)

	waitCtx, cancelFn := context.WithTimeout(ctx, 5*time.Second)
	defer cancelFn()
	err := env.Decoder.Wait(waitCtx)
	var codecErr ErrCodecFailure
	require.True(t, errors.As(err, &codecErr), "%v", err)
	require.Equal(t, "send", codecErr.Op)
	require.Equal(t, StateFinished, env.Decoder.State())
	require.True(t, env.Decoder.IsFinished())
	require.Zero(t, env.Codec.SendAttempts(3))
}

func TestServeReturnsOnAbort(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.Decoder.Serve(ctx)
	}()
	require.Eventually(t, func() bool {
		return env.Decoder.State() == StateRunning
	}, 5*time.Second, time.Millisecond)
	require.ErrorIs(t, env.Decoder.Serve(ctx), ErrAlreadyStarted)

	env.PacketQueue.Abort(ctx)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return on abort")
	}
	require.Equal(t, StateAborted, env.Decoder.State())
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)

	serveCtx, cancelFn := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelFn()
	require.ErrorIs(t, env.Decoder.Serve(serveCtx), context.DeadlineExceeded)
	require.Equal(t, StateAborted, env.Decoder.State())
}

func TestAbortUnblocksDecoder(t *testing.T) {
	ctx := testCtx(t)

	t.Run("empty_packet_queue", func(t *testing.T) {
		env := newTestEnv(t, ctx, 4)
		require.NoError(t, env.Decoder.Start(ctx))
		time.Sleep(10 * time.Millisecond)

		abortCtx, cancelFn := context.WithTimeout(ctx, 5*time.Second)
		defer cancelFn()
		require.NoError(t, env.Decoder.Abort(abortCtx))
		require.Equal(t, StateAborted, env.Decoder.State())
	})

	t.Run("full_frame_queue", func(t *testing.T) {
		env := newTestEnv(t, ctx, 1)
		require.NoError(t, env.Decoder.Start(ctx))
		pkts := []*fakePacket{pkt(1), pkt(2), pkt(3)}
		env.put(t, ctx, pkts...)
		require.Eventually(t, func() bool {
			return env.FrameQueue.NbRemaining(ctx) == 1
		}, 5*time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)

		abortCtx, cancelFn := context.WithTimeout(ctx, 5*time.Second)
		defer cancelFn()
		require.NoError(t, env.Decoder.Abort(abortCtx))
		require.Equal(t, StateAborted, env.Decoder.State())
		require.Zero(t, env.PacketQueue.NbPackets(ctx))
		for _, p := range pkts {
			require.True(t, p.IsReleased(), p.ID)
		}
	})
}

func TestEmptyQueueNotifier(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)
	ch := env.Notifier.Chan()
	require.NoError(t, env.Decoder.Start(ctx))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("the decoder did not report the empty queue")
	}
}

func TestClose(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)
	require.NoError(t, env.Decoder.Start(ctx))
	env.put(t, ctx, pkt(1))
	require.Equal(t, 1, env.read(t, ctx).Value)

	require.NoError(t, env.Decoder.Close(ctx))
	require.ErrorIs(t, env.Decoder.Close(ctx), ErrClosed)
	require.True(t, env.Codec.isClosed)
	require.Equal(t, 1, env.freed, "the scratch payload must be freed")
	require.ErrorIs(t, env.PacketQueue.Put(ctx, pkt(2)), packetqueue.ErrAborted)
}

func TestCloseWithoutStart(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)
	require.NoError(t, env.Decoder.Close(ctx))
	require.Equal(t, StateAborted, env.Decoder.State())
	require.NoError(t, env.Decoder.Wait(ctx))
}

// stuckCodec blocks inside ReceiveFrame until unblocked.
type stuckCodec struct {
	*fakeCodec
	entered   chan struct{}
	unblock   chan struct{}
	enterOnce sync.Once
}

func (c *stuckCodec) ReceiveFrame(ctx context.Context, frame *fakeFrame) (codec.FrameInfo, error) {
	c.enterOnce.Do(func() { close(c.entered) })
	<-c.unblock
	c.locker.Lock()
	isClosed := c.isClosed
	c.locker.Unlock()
	if isClosed {
		return codec.FrameInfo{}, fmt.Errorf("ReceiveFrame on a closed codec")
	}
	return c.fakeCodec.ReceiveFrame(ctx, frame)
}

func (c *stuckCodec) IsClosed() bool {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.isClosed
}

func TestCloseWithCancelledContextWaitsForTheLoop(t *testing.T) {
	ctx := testCtx(t)
	env := newTestEnv(t, ctx, 4)
	c := &stuckCodec{
		fakeCodec: newFakeCodec(),
		entered:   make(chan struct{}),
		unblock:   make(chan struct{}),
	}
	d := New[*fakePacket, *fakeFrame](ctx, c, env.PacketQueue, env.FrameQueue, nil)
	require.NoError(t, d.Start(ctx))
	select {
	case <-c.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("the decoder did not reach the codec")
	}

	cancelledCtx, cancelFn := context.WithCancel(ctx)
	cancelFn()
	err := d.Close(cancelledCtx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, c.IsClosed(), "the codec must not be closed under a running loop")
	env.locker.Lock()
	freed := env.freed
	env.locker.Unlock()
	require.Zero(t, freed, "the scratch payload must not be freed under a running loop")

	close(c.unblock)
	waitCtx, waitCancelFn := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancelFn()
	require.NoError(t, d.Wait(waitCtx))
	require.Eventually(t, c.IsClosed, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		env.locker.Lock()
		defer env.locker.Unlock()
		return env.freed == 1
	}, 5*time.Second, time.Millisecond)
	require.ErrorIs(t, d.Close(ctx), ErrClosed)
}
