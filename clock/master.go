// master.go implements the selection of the master clock among the clocks of a player.

package clock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xaionaro-go/typing"
)

type SyncType int

const (
	UndefinedSyncType = SyncType(iota)
	SyncTypeAudioMaster
	SyncTypeVideoMaster
	SyncTypeExternalClock
	EndOfSyncType
)

func (t SyncType) String() string {
	switch t {
	case UndefinedSyncType:
		return "<undefined>"
	case SyncTypeAudioMaster:
		return "audio"
	case SyncTypeVideoMaster:
		return "video"
	case SyncTypeExternalClock:
		return "ext"
	default:
		return fmt.Sprintf("SyncType(%d)", int(t))
	}
}

// Set implements pflag.Value.
func (t *SyncType) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for candidate := UndefinedSyncType + 1; candidate < EndOfSyncType; candidate++ {
		if candidate.String() == s {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown sync type '%s'", s)
}

// Type implements pflag.Value.
func (t *SyncType) Type() string {
	return "sync-type"
}

// Clocks is the set of clocks of one player. SyncType is the caller's
// preference; the effective master also depends on which streams exist.
type Clocks struct {
	Audio    *Clock
	Video    *Clock
	External *Clock
	SyncType SyncType
}

// MasterSyncType returns the effective sync type: video-master falls back to
// audio-master without a video stream, audio-master falls back to the
// external clock without an audio stream.
func (c *Clocks) MasterSyncType(
	hasAudio bool,
	hasVideo bool,
) SyncType {
	switch c.SyncType {
	case SyncTypeVideoMaster:
		if hasVideo {
			return SyncTypeVideoMaster
		}
		if hasAudio {
			return SyncTypeAudioMaster
		}
		return SyncTypeExternalClock
	case SyncTypeAudioMaster:
		if hasAudio {
			return SyncTypeAudioMaster
		}
		return SyncTypeExternalClock
	default:
		return SyncTypeExternalClock
	}
}

func (c *Clocks) Master(
	hasAudio bool,
	hasVideo bool,
) *Clock {
	switch c.MasterSyncType(hasAudio, hasVideo) {
	case SyncTypeVideoMaster:
		return c.Video
	case SyncTypeAudioMaster:
		return c.Audio
	default:
		return c.External
	}
}

// TargetDelay is ComputeTargetDelay fed with the divergence of the video
// clock from the master clock. If video is the master, delay is returned
// as is.
func (c *Clocks) TargetDelay(
	ctx context.Context,
	delay time.Duration,
	maxFrameDuration time.Duration,
	hasAudio bool,
	hasVideo bool,
) time.Duration {
	if c.MasterSyncType(hasAudio, hasVideo) == SyncTypeVideoMaster {
		return delay
	}
	video := c.Video.Get(ctx)
	master := c.Master(hasAudio, hasVideo).Get(ctx)
	var diff typing.Optional[time.Duration]
	if video.IsSet() && master.IsSet() {
		diff = typing.Opt(video.Get() - master.Get())
	}
	return ComputeTargetDelay(delay, diff, maxFrameDuration)
}
