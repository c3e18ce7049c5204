package packetqueue

import (
	"time"

	"github.com/xaionaro-go/avplayer/types"
)

// Statistics is a consistent snapshot of the queue accounting.
type Statistics struct {
	NbPackets int
	Size      int
	Duration  time.Duration
	Serial    types.Serial
	IsAborted bool
}
