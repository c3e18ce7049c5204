// packet.go wraps libav packets so that they can travel through a packet queue.

package libav

import (
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avplayer/avconv"
	"github.com/xaionaro-go/avplayer/pool"
	"github.com/xaionaro-go/avplayer/types"
)

// Packet is a libav packet together with the time base of its stream.
type Packet struct {
	*astiav.Packet
	TimeBase astiav.Rational
}

var _ types.Packet = (*Packet)(nil)

var PacketPool = pool.NewPool(
	func() *Packet {
		return &Packet{Packet: astiav.AllocPacket()}
	},
	func(p *Packet) {
		p.Packet.Unref()
		p.TimeBase = astiav.NewRational(0, 1)
	},
	func(p *Packet) { p.Packet.Free() },
)

// NewPacket returns a blank packet from PacketPool.
func NewPacket(timeBase astiav.Rational) *Packet {
	pkt := PacketPool.Get()
	pkt.TimeBase = timeBase
	return pkt
}

// ReleasePacket returns the packet to PacketPool. It fits
// packetqueue.OptionReleaseFunc.
func ReleasePacket(pkt *Packet) {
	if pkt == nil {
		return
	}
	PacketPool.Put(pkt)
}

func (p *Packet) GetSize() int {
	return p.Packet.Size()
}

func (p *Packet) GetDuration() time.Duration {
	d := avconv.OptionalDuration(p.Packet.Duration(), p.TimeBase)
	if !d.IsSet() || d.Get() < 0 {
		return 0
	}
	return d.Get()
}

func (p *Packet) String() string {
	return fmt.Sprintf(
		"Packet(stream:%d; pts:%d; dur:%v; size:%d; pos:%d)",
		p.Packet.StreamIndex(), p.Packet.Pts(), p.GetDuration(), p.Packet.Size(), p.Packet.Pos(),
	)
}
