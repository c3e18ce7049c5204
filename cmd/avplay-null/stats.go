package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/avplayer/codec/libav"
	"github.com/xaionaro-go/typing"
)

func (p *player) statsLoop(ctx context.Context) error {
	t := time.NewTicker(p.Config.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fmt.Println(p.statsLine(ctx))
		}
	}
}

func (p *player) statsLine(ctx context.Context) string {
	var b strings.Builder
	master := p.Clocks.Master(p.hasAudio(), p.hasVideo())
	fmt.Fprintf(&b, "%s:%s", p.Clocks.MasterSyncType(p.hasAudio(), p.hasVideo()), optionalDuration(master.Get(ctx)))
	if p.Audio != nil && p.Video != nil {
		fmt.Fprintf(&b, " A-V:%s", optionalDuration(p.Drift.Get(ctx)))
	}
	if p.Video != nil {
		fmt.Fprintf(&b, " shown:%d fd:%d", p.framesShown.Load(), p.framesDropped.Load())
	}
	if p.Audio != nil {
		fmt.Fprintf(&b, " samples:%d", p.samplesPlayed.Load())
	}
	for _, c := range p.components() {
		s := c.PacketQueue.Stats(ctx)
		fmt.Fprintf(&b, " %sq:%s/%d(%s)", c.Config.MediaType, humanize.IBytes(uint64(s.Size)), s.NbPackets, c.Decoder.State())
	}
	if p.Config.Speed == 1 {
		fmt.Fprintf(&b, " ext-speed:%.3f", p.Clocks.External.Speed(ctx))
	}
	fmt.Fprintf(&b, " packets:%s", libav.PacketPool.Stats())
	return b.String()
}

func optionalDuration(d typing.Optional[time.Duration]) string {
	if !d.IsSet() {
		return "none"
	}
	return d.Get().Truncate(time.Millisecond).String()
}
