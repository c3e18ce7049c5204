// option.go defines configuration options for packet queues.

package packetqueue

import (
	"github.com/xaionaro-go/avplayer/types"
)

type Config[P types.Packet] struct {
	// ReleaseFunc is called for every packet the queue drops on its own
	// (on Flush, Close or a Put into an aborted queue).
	ReleaseFunc func(P)
}

func defaultConfig[P types.Packet]() Config[P] {
	return Config[P]{
		ReleaseFunc: func(P) {},
	}
}

type Option[P types.Packet] interface {
	apply(*Config[P])
}

type Options[P types.Packet] []Option[P]

func (opts Options[P]) apply(cfg *Config[P]) {
	for _, opt := range opts {
		opt.apply(cfg)
	}
}

func (opts Options[P]) config() Config[P] {
	cfg := defaultConfig[P]()
	opts.apply(&cfg)
	return cfg
}

type OptionReleaseFunc[P types.Packet] func(P)

func (o OptionReleaseFunc[P]) apply(cfg *Config[P]) {
	if o == nil {
		return
	}
	cfg.ReleaseFunc = o
}
