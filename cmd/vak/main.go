package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"vak/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			printError(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// printError reports err on w. Problems the user can fix get the message
// alone; anything else points at the run log for the full trail.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if !services.IsUserError(err) {
		fmt.Fprintln(w, "Details are in vak.log inside the results directory (see `vak runs log`), or rerun with --log-level debug.")
	}
}
