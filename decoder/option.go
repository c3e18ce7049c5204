package decoder

import (
	"time"

	"github.com/xaionaro-go/typing"
)

type Config struct {
	// StartPTS is assigned to the first frame of every epoch if the codec
	// provides no timestamp for it.
	StartPTS typing.Optional[time.Duration]
}

func defaultConfig() Config {
	return Config{}
}

type Option interface {
	apply(*Config)
}

type Options []Option

func (opts Options) apply(cfg *Config) {
	for _, opt := range opts {
		opt.apply(cfg)
	}
}

func (opts Options) config() Config {
	cfg := defaultConfig()
	opts.apply(&cfg)
	return cfg
}

type OptionStartPTS time.Duration

func (o OptionStartPTS) apply(cfg *Config) {
	cfg.StartPTS = typing.Opt(time.Duration(o))
}
