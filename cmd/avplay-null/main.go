package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/pkg/runtime"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avplayer/clock"
	"github.com/xaionaro-go/avplayer/codec/libav"
	"github.com/xaionaro-go/avplayer/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/secret"
	"github.com/xaionaro-go/xcontext"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [options] <URL>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	syncType := clock.SyncTypeAudioMaster
	pflag.Var(&syncType, "sync", "the master clock: audio, video or ext")
	speed := pflag.Float64("speed", 1.0, "the playback speed")
	frameDrop := pflag.Bool("framedrop", true, "drop video frames that are late")
	seekEvery := pflag.Duration("seek-every", 0, "seek forward every given interval (0 = never)")
	seekStep := pflag.Duration("seek-step", 10*time.Second, "the distance of each seek")
	maxQueueSizeString := pflag.String("max-queue-size", "15MiB", "the total size of the packet queues the demuxer may fill")
	statsInterval := pflag.Duration("stats-interval", time.Second, "how often to print the playback statistics (0 = never)")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()
	if len(pflag.Args()) != 1 {
		pflag.Usage()
		os.Exit(1)
	}

	runtime.DefaultCallerPCFilter = observability.CallerPCFilter(runtime.DefaultCallerPCFilter)
	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx, cancelFn := signal.NotifyContext(ctx, terminationSignals...)
	defer cancelFn()
	logger.SetDefault(func() logger.Logger {
		return l
	})
	defer belt.Flush(ctx)
	libav.SetupLogging(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	maxQueueSize, err := humanize.ParseBytes(*maxQueueSizeString)
	if err != nil {
		l.Fatalf("unable to parse --max-queue-size value '%s': %v", *maxQueueSizeString, err)
	}
	if *speed <= 0 {
		l.Fatalf("--speed must be positive, got %v", *speed)
	}

	inputURL := secret.New(pflag.Arg(0))

	p, err := newPlayer(ctx, inputURL, playerConfig{
		SyncType:      syncType,
		Speed:         *speed,
		FrameDrop:     *frameDrop,
		SeekEvery:     *seekEvery,
		SeekStep:      *seekStep,
		MaxQueueSize:  maxQueueSize,
		StatsInterval: *statsInterval,
	})
	if err != nil {
		l.Fatal(err)
	}

	err = p.Serve(ctx)
	if closeErr := p.Close(xcontext.DetachDone(ctx)); closeErr != nil {
		l.Errorf("unable to close the player: %v", closeErr)
	}
	if err != nil && ctx.Err() == nil {
		l.Fatal(err)
	}
}
