package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avplayer/avconv"
	"github.com/xaionaro-go/avplayer/codec/libav"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/packetqueue"
	"github.com/xaionaro-go/typing"
)

func (p *player) readLoop(ctx context.Context) error {
	logger.Debugf(ctx, "readLoop")
	defer func() { logger.Debugf(ctx, "/readLoop") }()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if p.seekRequested.CompareAndSwap(true, false) {
			if err := p.seek(ctx); err != nil {
				logger.Errorf(ctx, "unable to seek: %v", err)
			}
		}

		if p.isEOF.Load() {
			if p.isDrained(ctx) {
				logger.Infof(ctx, "the playback is finished")
				return nil
			}
			p.waitContinueRead(ctx)
			continue
		}

		if p.hasEnoughPackets(ctx) {
			p.waitContinueRead(ctx)
			continue
		}

		err := p.readPacket(ctx)
		switch {
		case err == nil:
		case errors.Is(err, astiav.ErrEof):
			logger.Debugf(ctx, "reached the end of the input")
			p.isEOF.Store(true)
			for _, c := range p.components() {
				if err := c.PutEndOfStream(ctx); err != nil {
					logger.Debugf(ctx, "unable to put the end of stream into %s: %v", c, err)
				}
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("unable to read a packet: %w", err)
		}
	}
}

func (p *player) waitContinueRead(ctx context.Context) {
	ch := p.ContinueRead.Chan()
	t := time.NewTimer(readPollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-ch:
	case <-t.C:
	}
}

// hasEnoughPackets reports whether the demuxer should pause: either the
// queues are too large in total, or every stream has enough buffered.
func (p *player) hasEnoughPackets(ctx context.Context) bool {
	var totalSize uint64
	enough := true
	for _, c := range p.components() {
		totalSize += uint64(c.PacketQueue.Size(ctx))
		if !c.HasEnoughPackets(ctx) {
			enough = false
		}
	}
	return enough || totalSize > p.Config.MaxQueueSize
}

func (p *player) isDrained(ctx context.Context) bool {
	for _, c := range p.components() {
		if !c.IsDrained(ctx) {
			return false
		}
	}
	return true
}

func (p *player) readPacket(ctx context.Context) error {
	pkt := libav.NewPacket(astiav.NewRational(0, 1))
	if err := p.FormatContext.ReadFrame(pkt.Packet); err != nil {
		libav.ReleasePacket(pkt)
		return err
	}

	c := p.componentByStreamIndex(pkt.StreamIndex())
	if c == nil {
		libav.ReleasePacket(pkt)
		return nil
	}
	pkt.TimeBase = avconv.FindStreamByIndex(ctx, p.FormatContext, pkt.StreamIndex()).TimeBase()
	logger.Tracef(ctx, "read %s", pkt)

	if err := c.Put(ctx, pkt); err != nil {
		if errors.Is(err, packetqueue.ErrAborted) {
			// the queue released the packet already
			return nil
		}
		return fmt.Errorf("unable to queue %s: %w", pkt, err)
	}
	return nil
}

// seek moves the input SeekStep forward from the master clock and starts
// a new epoch in every stream.
func (p *player) seek(ctx context.Context) error {
	master := p.Clocks.Master(p.hasAudio(), p.hasVideo()).Get(ctx)
	var target time.Duration
	if master.IsSet() {
		target = master.Get()
	}
	target += p.Config.SeekStep
	logger.Debugf(ctx, "seek: %v", target)
	defer func() { logger.Debugf(ctx, "/seek: %v", target) }()

	ref := p.Video
	if ref == nil {
		ref = p.Audio
	}
	st := avconv.FindStreamByIndex(ctx, p.FormatContext, ref.Config.StreamIndex)
	ts := avconv.FromDuration(target, st.TimeBase())
	if err := p.FormatContext.SeekFrame(st.Index(), ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("unable to seek to %v: %w", target, err)
	}

	for _, c := range p.components() {
		c.Seek(ctx)
	}
	p.Clocks.External.Set(ctx, typing.Opt(target), 0)
	p.isEOF.Store(false)
	return nil
}
