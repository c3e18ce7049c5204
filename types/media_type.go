// media_type.go defines the MediaType enum and its methods.

package types

import "fmt"

// MediaType is the kind of an elementary stream. The values match
// libav's enum AVMediaType.
type MediaType int

const (
	MediaTypeUnknown  = MediaType(-0x1)
	MediaTypeVideo    = MediaType(0x0)
	MediaTypeAudio    = MediaType(0x1)
	MediaTypeData     = MediaType(0x2)
	MediaTypeSubtitle = MediaType(0x3)
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeData:
		return "data"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeVideo:
		return "video"
	case MediaTypeUnknown:
		return "unknown"
	default:
		return "MediaType(" + fmt.Sprintf("%d", int(t)) + ")"
	}
}
