package rescue

import (
	"context"
	"runtime/debug"

	"github.com/world-in-progress/canopy/core/logger"
)

// Recover swallows a panic after running cleanups and logs it with the stack.
func Recover(cleanups ...func()) {
	if r := recover(); r != nil {
		for _, cleanup := range cleanups {
			cleanup()
		}
		logger.Error("recovered from panic: %v\n%s", r, debug.Stack())
	}
}

// RecoverCtx is Recover that also records the context error, if any.
func RecoverCtx(ctx context.Context, cleanups ...func()) {
	if r := recover(); r != nil {
		for _, cleanup := range cleanups {
			cleanup()
		}
		logger.Error("recovered from panic: %v (ctx err: %v)\n%s", r, ctx.Err(), debug.Stack())
	}
}
