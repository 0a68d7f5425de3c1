package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/cellsync/internal/app"
	"github.com/vk/cellsync/internal/cli"
	"github.com/vk/cellsync/internal/fault"
	"github.com/vk/cellsync/internal/hcl"
)

// main is the entrypoint for the cellsync application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The real main function handles errors and exit codes.
	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, parseErr := cli.Parse(args, outW)
	if parseErr != nil {
		return parseErr
	}
	if shouldExit {
		return nil
	}

	// Startup raises invariant violations as panics; recover here so the
	// user sees a clean message instead of a stack trace.
	defer func() {
		if r := recover(); r != nil {
			if inv, ok := fault.AsInvariant(r); ok {
				err = fmt.Errorf("application startup panicked: %s", inv.Error())
				return
			}
			panic(r)
		}
	}()

	// Instantiate the concrete HCL loader to pass to the app.
	loader := hcl.NewLoader()
	cellsyncApp := app.New(outW, appConfig, loader)

	return cellsyncApp.Run(ctx)
}
