//go:build !debug_trace
// +build !debug_trace

package logger

import (
	"context"
)

// Tracef is a no-op unless built with the debug_trace tag: the queues
// call it on every put/get, which is too hot for a runtime level check.
func Tracef(ctx context.Context, format string, args ...any) {}
