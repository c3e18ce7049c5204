package packetqueue

import (
	"context"

	"github.com/xaionaro-go/avplayer/logger"
)

func assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	logger.Panic(ctx, "assertion failed", extraArgs)
}

func ptr[T any](v T) *T {
	return &v
}
