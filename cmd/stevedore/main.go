package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stevedore-deploy/stevedore/cmd/stevedore/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Cancel on interrupt so a hung download can be abandoned; the
	// journal write on the failure path still runs before exit.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		// Stdout carries the service-message protocol; errors go to
		// the error stream only.
		fmt.Fprintln(os.Stderr, "stevedore:", err)
		os.Exit(1)
	}
}
