// decoder.go implements the codec contract on top of a libav decoding context.

// Package libav implements package codec on top of libav (via go-astiav).
package libav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avplayer/avconv"
	"github.com/xaionaro-go/avplayer/codec"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/xsync"
)

type Decoder struct {
	locker       xsync.Mutex
	codec        *astiav.Codec
	codecContext *astiav.CodecContext
	mediaType    astiav.MediaType
	timeBase     astiav.Rational
	frameRate    astiav.Rational
	closer       *astikit.Closer

	// lastPos is the byte offset of the last sent packet; frames inherit it.
	lastPos int64
}

var _ codec.Decoder[*Packet, *astiav.Frame] = (*Decoder)(nil)

// ErrUnsupportedMediaType is returned for streams that do not decode into
// an astiav.Frame (subtitles, data, attachments).
type ErrUnsupportedMediaType struct {
	MediaType astiav.MediaType
}

func (e ErrUnsupportedMediaType) Error() string {
	return fmt.Sprintf("decoding of media type %s is not supported", e.MediaType)
}

type DecoderInput struct {
	CodecName       string
	CodecParameters *astiav.CodecParameters
	TimeBase        astiav.Rational

	// FrameRate is the guessed frame rate of a video stream; it is used
	// to estimate the frame durations.
	FrameRate   astiav.Rational
	ThreadCount int
	Options     *astiav.Dictionary
}

// NewDecoderForStream opens a decoder for a demuxed stream.
func NewDecoderForStream(
	ctx context.Context,
	fmtCtx *astiav.FormatContext,
	stream *astiav.Stream,
) (*Decoder, error) {
	input := DecoderInput{
		CodecParameters: stream.CodecParameters(),
		TimeBase:        stream.TimeBase(),
	}
	if stream.CodecParameters().MediaType() == astiav.MediaTypeVideo {
		input.FrameRate = fmtCtx.GuessFrameRate(stream, nil)
	}
	return NewDecoder(ctx, input)
}

func NewDecoder(
	ctx context.Context,
	input DecoderInput,
) (_ret *Decoder, _err error) {
	codecParameters := input.CodecParameters
	ctx = belt.WithField(ctx, "codec_id", codecParameters.CodecID())
	ctx = belt.WithField(ctx, "codec_name", input.CodecName)
	logger.Tracef(ctx, "NewDecoder(ctx, %#+v)", input)
	defer func() { logger.Tracef(ctx, "/NewDecoder(ctx, %#+v): %p %v", input, _ret, _err) }()

	switch mediaType := codecParameters.MediaType(); mediaType {
	case astiav.MediaTypeAudio, astiav.MediaTypeVideo:
	default:
		return nil, ErrUnsupportedMediaType{MediaType: mediaType}
	}

	d := &Decoder{
		mediaType: codecParameters.MediaType(),
		timeBase:  input.TimeBase,
		frameRate: input.FrameRate,
		closer:    astikit.NewCloser(),
		lastPos:   -1,
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the decoder: %v", _err)
			_ = d.Close(ctx)
		}
	}()

	d.codec = findDecoderCodec(codecParameters.CodecID(), input.CodecName)
	if d.codec == nil {
		return nil, fmt.Errorf("unable to find a decoder using name '%s' or codec ID %v", input.CodecName, codecParameters.CodecID())
	}
	logger.Tracef(ctx, "codec name: '%s' (%s)", d.codec.Name(), d.codec.ID())

	d.codecContext = astiav.AllocCodecContext(d.codec)
	if d.codecContext == nil {
		return nil, fmt.Errorf("unable to allocate codec context")
	}
	d.closer.Add(d.codecContext.Free)

	if err := codecParameters.ToCodecContext(d.codecContext); err != nil {
		return nil, fmt.Errorf("codecParameters.ToCodecContext(...) returned error: %w", err)
	}
	if input.ThreadCount > 0 {
		d.codecContext.SetThreadCount(input.ThreadCount)
	}

	if err := d.codecContext.Open(d.codec, input.Options); err != nil {
		return nil, fmt.Errorf("unable to open codec context: %w", err)
	}

	return d, nil
}

func findDecoderCodec(
	codecID astiav.CodecID,
	codecName string,
) *astiav.Codec {
	if codecName != "" {
		r := astiav.FindDecoderByName(codecName)
		if r != nil {
			return r
		}
	}
	return astiav.FindDecoder(codecID)
}

func (d *Decoder) String() string {
	if d.codec == nil {
		return "Decoder(<closed>)"
	}
	return fmt.Sprintf("Decoder(%s)", d.codec.Name())
}

func (d *Decoder) MediaType() astiav.MediaType {
	return d.mediaType
}

func (d *Decoder) SendPacket(
	ctx context.Context,
	pkt *Packet,
) error {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &d.locker, func() error {
		if d.codecContext == nil {
			return fmt.Errorf("the decoder is closed")
		}
		err := d.codecContext.SendPacket(pkt.Packet)
		switch {
		case err == nil:
			if pos := pkt.Pos(); pos >= 0 {
				d.lastPos = pos
			}
			return nil
		case errors.Is(err, astiav.ErrEagain):
			return codec.ErrWouldBlock
		default:
			return fmt.Errorf("unable to send %s: %w", pkt, err)
		}
	})
}

func (d *Decoder) SendEndOfStream(
	ctx context.Context,
) error {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &d.locker, func() error {
		if d.codecContext == nil {
			return fmt.Errorf("the decoder is closed")
		}
		err := d.codecContext.SendPacket(nil)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, astiav.ErrEagain):
			return codec.ErrWouldBlock
		case errors.Is(err, astiav.ErrEof):
			// already draining
			return nil
		default:
			return fmt.Errorf("unable to send the end of stream: %w", err)
		}
	})
}

func (d *Decoder) ReceiveFrame(
	ctx context.Context,
	f *astiav.Frame,
) (codec.FrameInfo, error) {
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &d.locker, func() (codec.FrameInfo, error) {
		if d.codecContext == nil {
			return codec.FrameInfo{}, fmt.Errorf("the decoder is closed")
		}
		err := d.codecContext.ReceiveFrame(f)
		switch {
		case err == nil:
		case errors.Is(err, astiav.ErrEagain):
			return codec.FrameInfo{}, codec.ErrWouldBlock
		case errors.Is(err, astiav.ErrEof):
			return codec.FrameInfo{}, io.EOF
		default:
			return codec.FrameInfo{}, fmt.Errorf("unable to receive a frame: %w", err)
		}

		info := codec.FrameInfo{
			PTS:    avconv.OptionalDuration(f.Pts(), d.timeBase),
			Pos:    d.lastPos,
			Format: avconv.FrameFormat(d.mediaType, f),
		}
		info.Duration = d.frameDuration(f)
		return info, nil
	})
}

func (d *Decoder) frameDuration(f *astiav.Frame) time.Duration {
	switch d.mediaType {
	case astiav.MediaTypeAudio:
		return avconv.SamplesDuration(f.NbSamples(), f.SampleRate())
	case astiav.MediaTypeVideo:
		return avconv.FrameDuration(d.frameRate)
	default:
		return 0
	}
}

func (d *Decoder) Flush(ctx context.Context) error {
	logger.Debugf(ctx, "Flush")
	defer func() { logger.Debugf(ctx, "/Flush") }()
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.codecContext == nil {
			return fmt.Errorf("the decoder is closed")
		}
		d.codecContext.FlushBuffers()
		d.lastPos = -1
		return nil
	})
}

func (d *Decoder) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close") }()
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.closer == nil {
			return nil
		}
		belt.Flush(ctx) // we want to flush the logs before a SEGFAULT-risky operation:
		err := d.closer.Close()
		d.closer = nil
		d.codec = nil
		d.codecContext = nil
		return err
	})
}
