package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// cmdContext returns a context cancelled on SIGINT/SIGTERM, so a trace or
// the continuous pipeline gets a chance to flush before exiting.
func cmdContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
