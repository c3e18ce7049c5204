package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avplayer/avconv"
	"github.com/xaionaro-go/avplayer/clock"
	"github.com/xaionaro-go/avplayer/codec/libav"
	"github.com/xaionaro-go/avplayer/helpers/changesignal"
	"github.com/xaionaro-go/avplayer/indicator"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/packetqueue"
	"github.com/xaionaro-go/avplayer/stream"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/secret"
	"go.uber.org/atomic"
)

const (
	refreshRate         = 10 * time.Millisecond
	readPollInterval    = 10 * time.Millisecond
	audioBufferDuration = 50 * time.Millisecond
	driftWindow         = 32
)

type playerConfig struct {
	SyncType      clock.SyncType
	Speed         float64
	FrameDrop     bool
	SeekEvery     time.Duration
	SeekStep      time.Duration
	MaxQueueSize  uint64
	StatsInterval time.Duration
}

type component = stream.Component[*libav.Packet, *astiav.Frame]

// player demuxes an input, decodes its first video and first audio streams
// and renders them into nowhere, paced by the clocks the same way a real
// player would.
type player struct {
	Config        playerConfig
	FormatContext *astiav.FormatContext
	Clocks        clock.Clocks
	Video         *component
	Audio         *component
	Drift         *indicator.AVDrift

	// ContinueRead wakes the demuxer up; decoders broadcast it when they
	// starve.
	ContinueRead *changesignal.ChangeSignal

	closer           *astikit.Closer
	interrupter      astiav.IOInterrupter
	timeSource       clock.TimeSource
	maxFrameDuration time.Duration

	isEOF         atomic.Bool
	seekRequested atomic.Bool
	framesShown   atomic.Uint64
	framesDropped atomic.Uint64
	samplesPlayed atomic.Uint64
}

func newPlayer(
	ctx context.Context,
	inputURL secret.String,
	cfg playerConfig,
) (_ret *player, _err error) {
	logger.Debugf(ctx, "newPlayer(ctx, %#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/newPlayer(ctx, %#+v): %v", cfg, _err) }()

	p := &player{
		Config:       cfg,
		Drift:        indicator.NewAVDrift(driftWindow),
		ContinueRead: changesignal.New(),
		closer:       astikit.NewCloser(),
		timeSource:   clock.MonotonicTime{},
	}
	defer func() {
		if _err != nil {
			_ = p.Close(ctx)
		}
	}()

	p.FormatContext = astiav.AllocFormatContext()
	if p.FormatContext == nil {
		return nil, fmt.Errorf("unable to allocate a format context")
	}
	p.closer.Add(p.FormatContext.Free)
	p.interrupter = p.FormatContext.SetInterruptCallback()

	if err := p.FormatContext.OpenInput(inputURL.Get(), nil, nil); err != nil {
		return nil, fmt.Errorf("unable to open the input: %w", err)
	}
	p.closer.Add(p.FormatContext.CloseInput)

	if err := p.FormatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("unable to get the stream info: %w", err)
	}

	p.maxFrameDuration = time.Hour
	if f := p.FormatContext.InputFormat(); f != nil && f.Flags().Has(astiav.IOFormatFlagTsDiscont) {
		p.maxFrameDuration = 10 * time.Second
	}

	p.Clocks = clock.Clocks{
		External: clock.New(ctx, nil),
		SyncType: cfg.SyncType,
	}
	for _, mediaType := range []astiav.MediaType{astiav.MediaTypeVideo, astiav.MediaTypeAudio} {
		st := avconv.FindFirstStreamOfType(ctx, p.FormatContext, mediaType)
		if st == nil {
			logger.Debugf(ctx, "no %s stream", mediaType)
			continue
		}
		c, err := p.openComponent(ctx, st)
		if err != nil {
			return nil, err
		}
		switch mediaType {
		case astiav.MediaTypeVideo:
			p.Video = c
			p.Clocks.Video = c.Clock
		case astiav.MediaTypeAudio:
			p.Audio = c
			p.Clocks.Audio = c.Clock
		}
	}
	if p.Video == nil && p.Audio == nil {
		return nil, fmt.Errorf("the input has neither video nor audio streams")
	}

	if cfg.Speed != 1 {
		for _, c := range []*clock.Clock{p.Clocks.Audio, p.Clocks.Video, p.Clocks.External} {
			if c != nil {
				c.SetSpeed(ctx, cfg.Speed)
			}
		}
	}
	logger.Infof(ctx, "master clock: %s", p.Clocks.MasterSyncType(p.hasAudio(), p.hasVideo()))
	return p, nil
}

func (p *player) openComponent(
	ctx context.Context,
	st *astiav.Stream,
) (*component, error) {
	ctx = belt.WithField(ctx, "stream_index", st.Index())
	dec, err := libav.NewDecoderForStream(ctx, p.FormatContext, st)
	if err != nil {
		return nil, fmt.Errorf("unable to open a decoder for stream #%d: %w", st.Index(), err)
	}

	mediaType := avconv.MediaType(st.CodecParameters().MediaType())
	c := stream.New[*libav.Packet, *astiav.Frame](
		ctx,
		stream.DefaultConfig(mediaType, st.Index()),
		dec,
		libav.FrameAllocator(),
		p.ContinueRead,
		packetqueue.OptionReleaseFunc[*libav.Packet](libav.ReleasePacket),
	)
	if err := c.Open(ctx); err != nil {
		return nil, errors.Join(
			fmt.Errorf("unable to start decoding stream #%d: %w", st.Index(), err),
			c.Close(ctx),
		)
	}
	return c, nil
}

func (p *player) hasAudio() bool {
	return p.Audio != nil
}

func (p *player) hasVideo() bool {
	return p.Video != nil
}

func (p *player) components() []*component {
	var result []*component
	for _, c := range []*component{p.Video, p.Audio} {
		if c != nil {
			result = append(result, c)
		}
	}
	return result
}

func (p *player) componentByStreamIndex(streamIndex int) *component {
	for _, c := range p.components() {
		if c.Config.StreamIndex == streamIndex {
			return c
		}
	}
	return nil
}

// realTime converts a stream time interval into wall-clock time according
// to the playback speed.
func (p *player) realTime(d time.Duration) time.Duration {
	return time.Duration(float64(d) / p.Config.Speed)
}

// Serve plays the input until it ends, ctx is cancelled or anything fails.
func (p *player) Serve(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Serve")
	defer func() { logger.Debugf(ctx, "/Serve: %v", _err) }()

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			defer cancelFn()
			err := fn(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				logger.Debugf(ctx, "%s finished", name)
				return
			}
			errCh <- fmt.Errorf("%s: %w", name, err)
		})
	}

	// any loop exiting cancels ctx, so this never outlives wg.Wait below
	wg.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer wg.Done()
		<-ctx.Done()
		p.interrupter.Interrupt()
	})

	spawn("demuxer", p.readLoop)
	if p.Video != nil {
		spawn("video renderer", p.videoLoop)
	}
	if p.Audio != nil {
		spawn("audio sink", p.audioLoop)
	}
	for _, c := range p.components() {
		spawn(c.String(), c.Decoder.Wait)
	}
	if p.Config.SeekEvery > 0 {
		spawn("seeker", p.seekLoop)
	}
	if p.Config.StatsInterval > 0 {
		spawn("statistics", p.statsLoop)
	}

	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *player) seekLoop(ctx context.Context) error {
	t := time.NewTicker(p.Config.SeekEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			logger.Debugf(ctx, "requesting a seek")
			p.seekRequested.Store(true)
			p.ContinueRead.Broadcast()
		}
	}
}

func (p *player) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close") }()
	var errs []error
	for _, c := range p.components() {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close %s: %w", c, err))
		}
	}
	p.Video, p.Audio = nil, nil
	if p.closer != nil {
		belt.Flush(ctx) // we want to flush the logs before a SEGFAULT-risky operation:
		if err := p.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the input: %w", err))
		}
		p.closer = nil
	}
	return errors.Join(errs...)
}
