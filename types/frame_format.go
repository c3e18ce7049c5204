// frame_format.go defines the format metadata attached to a decoded frame.

package types

import (
	"fmt"
)

// FrameFormat describes the layout of a decoded frame. Video frames use
// Width/Height/SampleAspectRatio, audio frames use SampleRate/Channels/NbSamples;
// Format is the libav pixel or sample format respectively.
type FrameFormat struct {
	MediaType         MediaType
	Width             int
	Height            int
	Format            int
	SampleAspectRatio Rational
	SampleRate        int
	Channels          int
	NbSamples         int
}

func (f FrameFormat) String() string {
	switch f.MediaType {
	case MediaTypeVideo:
		return fmt.Sprintf("video(%dx%d; fmt:%d; sar:%s)", f.Width, f.Height, f.Format, f.SampleAspectRatio)
	case MediaTypeAudio:
		return fmt.Sprintf("audio(%dHz; ch:%d; fmt:%d; samples:%d)", f.SampleRate, f.Channels, f.Format, f.NbSamples)
	default:
		return f.MediaType.String()
	}
}
