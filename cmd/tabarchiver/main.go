// Command tabarchiver mirrors guitar tabs from Ultimate Guitar into a local
// directory tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/tab-archiver/internal/orchestrator"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitNothingDone = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabarchiver: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, orchestrator.ErrInterrupted):
		return exitInterrupted
	case errors.Is(err, orchestrator.ErrNothingProcessed):
		return exitNothingDone
	}
	return exitFailure
}
