package avconv

import (
	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avplayer/types"
)

func MediaType(mediaType astiav.MediaType) types.MediaType {
	switch mediaType {
	case astiav.MediaTypeVideo:
		return types.MediaTypeVideo
	case astiav.MediaTypeAudio:
		return types.MediaTypeAudio
	case astiav.MediaTypeData:
		return types.MediaTypeData
	case astiav.MediaTypeSubtitle:
		return types.MediaTypeSubtitle
	default:
		return types.MediaTypeUnknown
	}
}

func Rational(r astiav.Rational) types.Rational {
	return types.Rational{
		Num: r.Num(),
		Den: r.Den(),
	}
}

// FrameFormat extracts the format metadata of a decoded frame.
func FrameFormat(
	mediaType astiav.MediaType,
	f *astiav.Frame,
) types.FrameFormat {
	result := types.FrameFormat{
		MediaType: MediaType(mediaType),
	}
	switch mediaType {
	case astiav.MediaTypeVideo:
		result.Width = f.Width()
		result.Height = f.Height()
		result.Format = int(f.PixelFormat())
		result.SampleAspectRatio = Rational(f.SampleAspectRatio())
	case astiav.MediaTypeAudio:
		result.Format = int(f.SampleFormat())
		result.SampleRate = f.SampleRate()
		result.Channels = f.ChannelLayout().Channels()
		result.NbSamples = f.NbSamples()
	}
	return result
}
