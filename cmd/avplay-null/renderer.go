package main

import (
	"context"
	"errors"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avplayer/clock"
	"github.com/xaionaro-go/avplayer/framequeue"
	"github.com/xaionaro-go/avplayer/logger"
)

type videoFrame = framequeue.Frame[*astiav.Frame]

// videoLoop is a null video output: it picks the frame to show on every
// refresh exactly like a real output would, but shows nothing.
func (p *player) videoLoop(ctx context.Context) error {
	logger.Debugf(ctx, "videoLoop")
	defer func() { logger.Debugf(ctx, "/videoLoop") }()

	var frameTimer time.Duration
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		t.Reset(p.videoRefresh(ctx, &frameTimer))
	}
}

// videoRefresh shows at most one frame and returns how long to wait
// before the next refresh.
func (p *player) videoRefresh(
	ctx context.Context,
	frameTimer *time.Duration,
) time.Duration {
	remaining := refreshRate
	syncType := p.Clocks.MasterSyncType(p.hasAudio(), p.hasVideo())
	if syncType == clock.SyncTypeExternalClock && p.Config.Speed == 1 {
		var nbPackets []int
		for _, c := range p.components() {
			nbPackets = append(nbPackets, c.PacketQueue.NbPackets(ctx))
		}
		clock.AdjustExternalClockSpeed(ctx, p.Clocks.External, nbPackets...)
	}

	fq := p.Video.FrameQueue
	for {
		if fq.NbRemaining(ctx) == 0 {
			return remaining
		}

		lastvp, vp := fq.PeekLast(ctx), fq.Peek(ctx)
		if fq.IsStale(vp) {
			fq.Next(ctx)
			continue
		}
		if lastvp.Serial != vp.Serial {
			*frameTimer = p.timeSource.Now()
		}

		lastDuration := p.frameDuration(lastvp, vp)
		delay := p.realTime(p.Clocks.TargetDelay(ctx, lastDuration, p.maxFrameDuration, p.hasAudio(), true))

		now := p.timeSource.Now()
		if now < *frameTimer+delay {
			return min(remaining, *frameTimer+delay-now)
		}
		*frameTimer += delay
		if delay > 0 && now-*frameTimer > clock.SyncThresholdMax {
			*frameTimer = now
		}

		if vp.PTS.IsSet() {
			p.Video.Clock.Set(ctx, vp.PTS, vp.Serial)
			clock.SyncToSlave(ctx, p.Clocks.External, p.Video.Clock)
		}

		if fq.NbRemaining(ctx) > 1 {
			nextvp := fq.PeekNext(ctx)
			duration := p.realTime(p.frameDuration(vp, nextvp))
			if p.Config.FrameDrop && syncType != clock.SyncTypeVideoMaster && now > *frameTimer+duration {
				logger.Tracef(ctx, "dropping late %s", vp)
				p.framesDropped.Inc()
				fq.Next(ctx)
				continue
			}
		}

		p.display(ctx, vp)
		fq.Next(ctx)
		return remaining
	}
}

// frameDuration is the stream time from vp to nextvp, falling back to the
// duration reported by the decoder.
func (p *player) frameDuration(vp, nextvp *videoFrame) time.Duration {
	if vp.Serial != nextvp.Serial {
		return 0
	}
	if vp.PTS.IsSet() && nextvp.PTS.IsSet() {
		d := nextvp.PTS.Get() - vp.PTS.Get()
		if d > 0 && d <= p.maxFrameDuration {
			return d
		}
	}
	return vp.Duration
}

func (p *player) display(ctx context.Context, vp *videoFrame) {
	logger.Tracef(ctx, "showing %s", vp)
	p.framesShown.Inc()
	if p.Audio != nil {
		p.Drift.Update(ctx, p.Audio.Clock.Get(ctx), p.Video.Clock.Get(ctx), vp.Serial)
	}
}

// audioLoop is a null audio device: it consumes the samples in real time
// (scaled by the playback speed), keeping up to audioBufferDuration of
// them "in the device", and keeps the audio clock at the sample being
// played.
func (p *player) audioLoop(ctx context.Context) error {
	logger.Debugf(ctx, "audioLoop")
	defer func() { logger.Debugf(ctx, "/audioLoop") }()

	fq := p.Audio.FrameQueue
	deviceTime := p.timeSource.Now()
	for {
		af, err := fq.PeekReadable(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, framequeue.ErrAborted) {
				return nil
			}
			return err
		}
		if fq.IsStale(af) {
			fq.Next(ctx)
			continue
		}

		now := p.timeSource.Now()
		if deviceTime < now {
			// underrun
			deviceTime = now
		}
		if af.PTS.IsSet() {
			p.Audio.Clock.SetAt(ctx, af.PTS, af.Serial, deviceTime)
			clock.SyncToSlave(ctx, p.Clocks.External, p.Audio.Clock)
		}
		p.samplesPlayed.Add(uint64(af.Format.NbSamples))
		deviceTime += p.realTime(af.Duration)
		fq.Next(ctx)

		wait := deviceTime - now - audioBufferDuration
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
