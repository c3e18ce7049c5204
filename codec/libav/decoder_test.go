package libav

import (
	"context"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func TestNewDecoderRejectsSubtitles(t *testing.T) {
	codecParameters := astiav.AllocCodecParameters()
	defer codecParameters.Free()
	codecParameters.SetMediaType(astiav.MediaTypeSubtitle)

	d, err := NewDecoder(context.Background(), DecoderInput{CodecParameters: codecParameters})
	require.Nil(t, d)
	var mediaTypeErr ErrUnsupportedMediaType
	require.ErrorAs(t, err, &mediaTypeErr)
	require.Equal(t, astiav.MediaTypeSubtitle, mediaTypeErr.MediaType)
}
