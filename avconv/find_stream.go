package avconv

import (
	"context"

	"github.com/asticode/go-astiav"
)

func FindStreamByIndex(
	ctx context.Context,
	fmtCtx *astiav.FormatContext,
	streamIndex int,
) *astiav.Stream {
	for _, stream := range fmtCtx.Streams() {
		if stream.Index() == streamIndex {
			return stream
		}
	}
	return nil
}

// FindFirstStreamOfType returns the first stream of the given media type, if any.
func FindFirstStreamOfType(
	ctx context.Context,
	fmtCtx *astiav.FormatContext,
	mediaType astiav.MediaType,
) *astiav.Stream {
	for _, stream := range fmtCtx.Streams() {
		if stream.CodecParameters().MediaType() == mediaType {
			return stream
		}
	}
	return nil
}
