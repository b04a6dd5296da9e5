package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// -----------------------------------------------------------------------------

func main() {
	// Interrupt is the only cancellation source; every command honours ctx.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
