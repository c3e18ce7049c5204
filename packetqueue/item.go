package packetqueue

import (
	"fmt"

	"github.com/xaionaro-go/avplayer/types"
)

// Item is a queued compressed unit tagged with the epoch it was enqueued in.
type Item[P types.Packet] struct {
	Packet      P
	Serial      types.Serial
	StreamIndex int

	// IsEndOfStream marks the "no more data for StreamIndex" sentinel;
	// Packet is the zero value in this case.
	IsEndOfStream bool
}

func (item *Item[P]) size() int {
	if item.IsEndOfStream {
		return 0
	}
	return item.Packet.GetSize()
}

func (item *Item[P]) String() string {
	if item.IsEndOfStream {
		return fmt.Sprintf("EndOfStream(stream:%d; %s)", item.StreamIndex, item.Serial)
	}
	return fmt.Sprintf("Item(size:%d; dur:%v; %s)", item.Packet.GetSize(), item.Packet.GetDuration(), item.Serial)
}
