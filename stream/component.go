// component.go implements the per-stream bundle of clock, queues and decoder.

// Package stream provides the machinery of one elementary stream of a player.
package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/avplayer/clock"
	"github.com/xaionaro-go/avplayer/codec"
	"github.com/xaionaro-go/avplayer/decoder"
	"github.com/xaionaro-go/avplayer/framequeue"
	"github.com/xaionaro-go/avplayer/helpers/changesignal"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/avplayer/packetqueue"
	"github.com/xaionaro-go/avplayer/types"
)

// Component is one elementary stream: the demuxer puts packets into
// PacketQueue, Decoder turns them into frames in FrameQueue, and the
// renderer presents them and keeps Clock up to date.
type Component[P types.Packet, F any] struct {
	Config      Config
	Clock       *clock.Clock
	PacketQueue *packetqueue.PacketQueue[P]
	FrameQueue  *framequeue.FrameQueue[F]
	Decoder     *decoder.Decoder[P, F]
}

func New[P types.Packet, F any](
	ctx context.Context,
	cfg Config,
	codec codec.Decoder[P, F],
	allocator framequeue.Allocator[F],
	emptyQueueNotifier *changesignal.ChangeSignal,
	packetQueueOpts ...packetqueue.Option[P],
) *Component[P, F] {
	pktq := packetqueue.New[P](ctx, packetQueueOpts...)
	frameq := framequeue.New(ctx, pktq, cfg.FrameQueueSize, cfg.KeepLast, allocator)
	return &Component[P, F]{
		Config:      cfg,
		Clock:       clock.New(ctx, pktq),
		PacketQueue: pktq,
		FrameQueue:  frameq,
		Decoder:     decoder.New[P, F](ctx, codec, pktq, frameq, emptyQueueNotifier, cfg.DecoderOptions...),
	}
}

func (c *Component[P, F]) String() string {
	return fmt.Sprintf("Component(%s#%d)", c.Config.MediaType, c.Config.StreamIndex)
}

// Open starts decoding.
func (c *Component[P, F]) Open(ctx context.Context) error {
	logger.Debugf(ctx, "Open: %s", c)
	defer func() { logger.Debugf(ctx, "/Open: %s", c) }()
	return c.Decoder.Start(ctx)
}

func (c *Component[P, F]) Put(
	ctx context.Context,
	pkt P,
) error {
	return c.PacketQueue.Put(ctx, pkt)
}

func (c *Component[P, F]) PutEndOfStream(ctx context.Context) error {
	return c.PacketQueue.PutEndOfStream(ctx, c.Config.StreamIndex)
}

// Seek drops everything buffered for the stream and starts a new epoch.
// The caller repositions the demuxer; everything it reads afterwards
// belongs to the new epoch.
func (c *Component[P, F]) Seek(ctx context.Context) {
	logger.Debugf(ctx, "Seek: %s", c)
	defer func() { logger.Debugf(ctx, "/Seek: %s", c) }()
	c.PacketQueue.Flush(ctx)
	c.FrameQueue.Signal(ctx)
}

// HasEnoughPackets reports whether the demuxer may pause reading this stream.
func (c *Component[P, F]) HasEnoughPackets(ctx context.Context) bool {
	return c.PacketQueue.HasEnoughPackets(ctx, MinFrames, MinDuration)
}

// IsDrained reports whether the stream has reached its end in the live
// epoch and every decoded frame was consumed.
func (c *Component[P, F]) IsDrained(ctx context.Context) bool {
	return c.Decoder.IsFinished() && c.FrameQueue.NbRemaining(ctx) == 0
}

// Close stops decoding and releases the queues. The decoding error, if
// any, is returned.
func (c *Component[P, F]) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close: %s", c)
	defer func() { logger.Debugf(ctx, "/Close: %s", c) }()
	var errs []error
	if err := c.Decoder.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to close the decoder: %w", err))
	}
	if err := c.FrameQueue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to close the frame queue: %w", err))
	}
	if err := c.PacketQueue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to close the packet queue: %w", err))
	}
	return errors.Join(errs...)
}
