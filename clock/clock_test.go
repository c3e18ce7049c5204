package clock

import (
	"context"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/types"
	"github.com/xaionaro-go/typing"
	"go.uber.org/atomic"
)

type fakeTime struct {
	now atomic.Duration
}

func (t *fakeTime) Now() time.Duration {
	return t.now.Load()
}

func (t *fakeTime) Set(now time.Duration) {
	t.now.Store(now)
}

type fakeSerial struct {
	serial atomic.Int64
}

func (s *fakeSerial) GetSerial() types.Serial {
	return types.Serial(s.serial.Load())
}

func (s *fakeSerial) Set(serial types.Serial) {
	s.serial.Store(int64(serial))
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

func sec(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func opt(v float64) typing.Optional[time.Duration] {
	return typing.Opt(sec(v))
}

func requireClockValue(t *testing.T, ctx context.Context, c *Clock, expected float64) {
	t.Helper()
	v := c.Get(ctx)
	require.True(t, v.IsSet(), "the clock has no value")
	require.InDelta(t, expected, v.Get().Seconds(), 1e-6)
}

func newTestClock(ctx context.Context) (*Clock, *fakeTime, *fakeSerial) {
	ts := &fakeTime{}
	serial := &fakeSerial{}
	return NewWithTimeSource(ctx, serial, ts), ts, serial
}

func TestClockInit(t *testing.T) {
	ctx := testCtx(t)
	c, _, serial := newTestClock(ctx)

	require.False(t, c.Get(ctx).IsSet())
	require.Equal(t, types.SerialInvalid, c.Serial(ctx))
	require.Equal(t, 1.0, c.Speed(ctx))
	require.False(t, c.IsPaused(ctx))

	serial.Set(types.SerialInvalid)
	require.False(t, c.Get(ctx).IsSet(), "an unset pts has no value even within the right epoch")
}

func TestClockContinuity(t *testing.T) {
	ctx := testCtx(t)
	c, ts, serial := newTestClock(ctx)
	serial.Set(1)

	c.SetAt(ctx, opt(5), 1, sec(100))
	ts.Set(sec(100))
	requireClockValue(t, ctx, c, 5)
	ts.Set(sec(102))
	requireClockValue(t, ctx, c, 7)
	require.Equal(t, sec(100), c.LastUpdated(ctx))
}

func TestClockSpeedChange(t *testing.T) {
	ctx := testCtx(t)
	c, ts, serial := newTestClock(ctx)
	serial.Set(1)

	ts.Set(sec(100))
	c.SetAt(ctx, opt(5), 1, sec(100))
	c.SetSpeed(ctx, 2.0)
	requireClockValue(t, ctx, c, 5)
	require.Equal(t, types.Serial(1), c.Serial(ctx))

	ts.Set(sec(105))
	requireClockValue(t, ctx, c, 15)

	// slowing down again is continuous as well
	c.SetSpeed(ctx, 0.5)
	requireClockValue(t, ctx, c, 15)
	ts.Set(sec(109))
	requireClockValue(t, ctx, c, 17)
}

func TestClockStaleSerial(t *testing.T) {
	ctx := testCtx(t)
	c, ts, serial := newTestClock(ctx)
	serial.Set(1)
	ts.Set(sec(10))
	c.Set(ctx, opt(3), 1)
	requireClockValue(t, ctx, c, 3)

	serial.Set(2)
	require.False(t, c.Get(ctx).IsSet(), "a flushed queue invalidates the clock")

	c.Set(ctx, opt(42), 2)
	requireClockValue(t, ctx, c, 42)
}

func TestClockPause(t *testing.T) {
	ctx := testCtx(t)
	c, ts, serial := newTestClock(ctx)
	serial.Set(1)

	ts.Set(sec(100))
	c.Set(ctx, opt(5), 1)
	ts.Set(sec(103))
	c.SetPaused(ctx, true)
	require.True(t, c.IsPaused(ctx))
	requireClockValue(t, ctx, c, 8)

	ts.Set(sec(200))
	requireClockValue(t, ctx, c, 8)

	c.SetPaused(ctx, true)
	requireClockValue(t, ctx, c, 8)

	c.SetPaused(ctx, false)
	requireClockValue(t, ctx, c, 8)
	ts.Set(sec(201))
	requireClockValue(t, ctx, c, 9)
}

func TestClockSelfBound(t *testing.T) {
	ctx := testCtx(t)
	ts := &fakeTime{}
	c := NewWithTimeSource(ctx, nil, ts)
	require.False(t, c.Get(ctx).IsSet())

	c.Set(ctx, opt(1), 7)
	requireClockValue(t, ctx, c, 1)
	require.Equal(t, types.Serial(7), c.GetSerial())

	c.Set(ctx, opt(2), 8)
	requireClockValue(t, ctx, c, 2)
}

func TestSyncToSlave(t *testing.T) {
	ctx := testCtx(t)

	newPair := func() (*Clock, *Clock, *fakeTime) {
		ts := &fakeTime{}
		ts.Set(sec(1000))
		return NewWithTimeSource(ctx, nil, ts), NewWithTimeSource(ctx, nil, ts), ts
	}

	t.Run("master_unset", func(t *testing.T) {
		master, slave, _ := newPair()
		slave.Set(ctx, opt(20), 3)
		require.True(t, SyncToSlave(ctx, master, slave))
		requireClockValue(t, ctx, master, 20)
		require.Equal(t, types.Serial(3), master.Serial(ctx))
	})

	t.Run("within_threshold", func(t *testing.T) {
		master, slave, _ := newPair()
		master.Set(ctx, opt(12), 1)
		slave.Set(ctx, opt(14), 3)
		require.False(t, SyncToSlave(ctx, master, slave))
		requireClockValue(t, ctx, master, 12)
		require.Equal(t, types.Serial(1), master.Serial(ctx))
	})

	t.Run("beyond_threshold", func(t *testing.T) {
		master, slave, _ := newPair()
		master.Set(ctx, opt(0), 1)
		slave.Set(ctx, opt(11), 3)
		require.True(t, SyncToSlave(ctx, master, slave))
		requireClockValue(t, ctx, master, 11)
		require.Equal(t, types.Serial(3), master.Serial(ctx))
	})

	t.Run("slave_unset", func(t *testing.T) {
		master, slave, _ := newPair()
		master.Set(ctx, opt(12), 1)
		require.False(t, SyncToSlave(ctx, master, slave))
		requireClockValue(t, ctx, master, 12)
	})

	t.Run("both_unset", func(t *testing.T) {
		master, slave, _ := newPair()
		require.False(t, SyncToSlave(ctx, master, slave))
		require.False(t, master.Get(ctx).IsSet())
	})
}

func TestSyncToSlaveAdoptsConsistentSnapshot(t *testing.T) {
	ctx := testCtx(t)
	ts := &fakeTime{}
	ts.Set(sec(1000))
	master := NewWithTimeSource(ctx, nil, ts)
	slave := NewWithTimeSource(ctx, nil, ts)
	slave.Set(ctx, opt(100), 1)

	value, serial := slave.getWithSerial(ctx)
	require.Equal(t, types.Serial(1), serial)
	require.InDelta(t, 100, value.Get().Seconds(), 1e-6)

	// the slave is re-anchored concurrently; every value is 100s times its serial
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for serial := types.Serial(2); ; serial++ {
			select {
			case <-stopCh:
				return
			default:
			}
			slave.Set(ctx, opt(100*float64(serial)), serial)
		}
	}()
	defer func() {
		close(stopCh)
		<-doneCh
	}()

	noLogCtx := logger.CtxWithLogger(context.Background(), logrus.Default().WithLevel(logger.LevelWarning))
	for range 1000 {
		master.Set(noLogCtx, typing.Optional[time.Duration]{}, 0)
		require.True(t, SyncToSlave(noLogCtx, master, slave))
		value, serial := master.getWithSerial(noLogCtx)
		require.InDelta(t, 100*float64(serial), value.Get().Seconds(), 1e-6)
	}
}

func TestMasterSyncType(t *testing.T) {
	for _, tc := range []struct {
		pref     SyncType
		hasAudio bool
		hasVideo bool
		expected SyncType
	}{
		{SyncTypeAudioMaster, true, true, SyncTypeAudioMaster},
		{SyncTypeAudioMaster, false, true, SyncTypeExternalClock},
		{SyncTypeVideoMaster, true, true, SyncTypeVideoMaster},
		{SyncTypeVideoMaster, true, false, SyncTypeAudioMaster},
		{SyncTypeVideoMaster, false, false, SyncTypeExternalClock},
		{SyncTypeExternalClock, true, true, SyncTypeExternalClock},
	} {
		t.Run(tc.pref.String(), func(t *testing.T) {
			clocks := &Clocks{SyncType: tc.pref}
			require.Equal(t, tc.expected, clocks.MasterSyncType(tc.hasAudio, tc.hasVideo))
		})
	}
}

func TestSyncTypeFlag(t *testing.T) {
	var s SyncType
	require.NoError(t, s.Set("video"))
	require.Equal(t, SyncTypeVideoMaster, s)
	require.NoError(t, s.Set(" EXT "))
	require.Equal(t, SyncTypeExternalClock, s)
	require.Error(t, s.Set("<undefined>"))
	require.Error(t, s.Set("subtitle"))
	require.Equal(t, "sync-type", s.Type())
}

func TestAdjustExternalClockSpeed(t *testing.T) {
	ctx := testCtx(t)
	ts := &fakeTime{}
	ext := NewWithTimeSource(ctx, nil, ts)

	for i := 0; i < 200; i++ {
		AdjustExternalClockSpeed(ctx, ext, 1, 50)
	}
	require.InDelta(t, ExternalClockSpeedMin, ext.Speed(ctx), 1e-9)

	// back towards 1.0
	AdjustExternalClockSpeed(ctx, ext, 5, 50)
	require.InDelta(t, ExternalClockSpeedMin+ExternalClockSpeedStep, ext.Speed(ctx), 1e-9)

	for i := 0; i < 200; i++ {
		AdjustExternalClockSpeed(ctx, ext, 11, 50)
	}
	require.InDelta(t, ExternalClockSpeedMax, ext.Speed(ctx), 1e-9)

	AdjustExternalClockSpeed(ctx, ext, 5)
	require.InDelta(t, ExternalClockSpeedMax-ExternalClockSpeedStep, ext.Speed(ctx), 1e-9)
}

func TestComputeTargetDelay(t *testing.T) {
	const frame = 40 * time.Millisecond
	const maxFrameDuration = 10 * time.Second
	unset := typing.Optional[time.Duration]{}

	require.Equal(t, frame, ComputeTargetDelay(frame, unset, maxFrameDuration))
	require.Equal(t, frame, ComputeTargetDelay(frame, typing.Opt(10*time.Millisecond), maxFrameDuration))
	require.Equal(t, frame, ComputeTargetDelay(frame, typing.Opt(20*time.Second), maxFrameDuration), "a discontinuity is ignored")

	// late: shorten
	require.Equal(t, frame, ComputeTargetDelay(frame, typing.Opt(-30*time.Millisecond), maxFrameDuration))
	require.Equal(t, time.Duration(0), ComputeTargetDelay(frame, typing.Opt(-500*time.Millisecond), maxFrameDuration))
	require.Equal(t, 50*time.Millisecond, ComputeTargetDelay(200*time.Millisecond, typing.Opt(-150*time.Millisecond), maxFrameDuration))

	// early: duplicate
	require.Equal(t, 2*frame, ComputeTargetDelay(frame, typing.Opt(50*time.Millisecond), maxFrameDuration))

	// early with a long frame: stretch
	const longFrame = 200 * time.Millisecond
	require.Equal(t, longFrame+150*time.Millisecond, ComputeTargetDelay(longFrame, typing.Opt(150*time.Millisecond), maxFrameDuration))
	require.Equal(t, longFrame, ComputeTargetDelay(longFrame, typing.Opt(90*time.Millisecond), maxFrameDuration))
}

func TestClocksTargetDelay(t *testing.T) {
	ctx := testCtx(t)
	ts := &fakeTime{}
	ts.Set(sec(10))
	clocks := &Clocks{
		Audio:    NewWithTimeSource(ctx, nil, ts),
		Video:    NewWithTimeSource(ctx, nil, ts),
		External: NewWithTimeSource(ctx, nil, ts),
		SyncType: SyncTypeAudioMaster,
	}
	const frame = 40 * time.Millisecond

	require.Equal(t, frame, clocks.TargetDelay(ctx, frame, time.Second, true, true), "no values yet")

	clocks.Audio.Set(ctx, opt(5), 1)
	clocks.Video.Set(ctx, opt(5.05), 1)
	require.Equal(t, 2*frame, clocks.TargetDelay(ctx, frame, time.Second, true, true))

	clocks.SyncType = SyncTypeVideoMaster
	require.Equal(t, frame, clocks.TargetDelay(ctx, frame, time.Second, true, true))
	require.Same(t, clocks.Video, clocks.Master(true, true))
	require.Same(t, clocks.External, clocks.Master(false, false))
}
