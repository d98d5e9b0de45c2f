// Command harvester enumerates large GitHub search result sets into run
// directories of JSON-lines output files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/search-harvester/pkg/queue"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitIncomplete = 2
	exitHalted     = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	root := newRootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errIncomplete):
		return exitIncomplete
	case errors.Is(err, queue.ErrRateLimitReached):
		fmt.Fprintf(os.Stderr, "Halted: %v\n", err)
		return exitHalted
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
}
