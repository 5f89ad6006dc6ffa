// Package main is the entry point for the pgl-mirror CLI.
package main

import (
	"context"
	"os"
	"os/signal"

	"pixelgardenlabs.io/pgl-mirror/cmd"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

func main() {
	// Set up a context that is canceled when an interrupt signal is
	// received, so a running watch or sync can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		plog.Notice("Interrupt received, shutting down")
		cancel()

		// A second interrupt aborts immediately.
		<-sigChan
		plog.Error("Second interrupt received, aborting")
		os.Exit(1)
	}()

	cmd.ExecuteContext(ctx)
}
