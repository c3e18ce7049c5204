package libav

import (
	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avplayer/framequeue"
)

// FrameAllocator manages *astiav.Frame payloads of a frame queue.
func FrameAllocator() framequeue.Allocator[*astiav.Frame] {
	return framequeue.Allocator[*astiav.Frame]{
		Alloc: astiav.AllocFrame,
		Unref: func(f *astiav.Frame) { f.Unref() },
		Free:  func(f *astiav.Frame) { f.Free() },
	}
}
