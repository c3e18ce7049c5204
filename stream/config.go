package stream

import (
	"time"

	"github.com/xaionaro-go/avplayer/decoder"
	"github.com/xaionaro-go/avplayer/framequeue"
	"github.com/xaionaro-go/avplayer/types"
)

const (
	// MinFrames is the amount of queued packets after which the demuxer
	// may pause reading this stream (given MinDuration is buffered as well).
	MinFrames   = 25
	MinDuration = time.Second
)

type Config struct {
	MediaType      types.MediaType
	StreamIndex    int
	FrameQueueSize int
	KeepLast       bool
	DecoderOptions []decoder.Option
}

// DefaultConfig returns the frame queue geometry suitable for the media type.
func DefaultConfig(
	mediaType types.MediaType,
	streamIndex int,
) Config {
	cfg := Config{
		MediaType:   mediaType,
		StreamIndex: streamIndex,
	}
	switch mediaType {
	case types.MediaTypeVideo:
		cfg.FrameQueueSize = framequeue.VideoPictureQueueSize
		cfg.KeepLast = true
	case types.MediaTypeAudio:
		cfg.FrameQueueSize = framequeue.SampleQueueSize
		cfg.KeepLast = true
	default:
		cfg.FrameQueueSize = framequeue.SubPictureQueueSize
		cfg.KeepLast = false
	}
	return cfg
}
