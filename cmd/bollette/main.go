// Command bollette operates the bill synchronization core from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"bollette/internal/app"
	"bollette/internal/backend"
	"bollette/internal/cli"
	"bollette/internal/config"
	"bollette/internal/core"
	"bollette/internal/log"
	"bollette/internal/trace"
)

const shutdownTimeout = 30 * time.Second

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app.App, args []string) error
}

var commands = []command{
	{"list", "List bills matching a filter", runList},
	{"summary", "Show count, total and latest bill for a filter", runSummary},
	{"add", "Create a bill", runAdd},
	{"update", "Change fields of a bill", runUpdate},
	{"delete", "Delete a bill", runDelete},
	{"categories", "List, add or delete categories", runCategories},
	{"attachments", "List, upload or delete bill attachments", runAttachments},
	{"watch", "Keep the list in sync and print every change", runWatch},
}

func main() {
	cli.LoadEnvFile()

	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		printUsage()
		os.Exit(2)
	}
	cmd, ok := findCommand(os.Args[1])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger, err := cli.SetupLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := execute(cmd, cfg, logger, os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("Command failed", "command", cmd.name, log.FieldError, err)
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// describe prefers the user-facing sentence and falls back to the error
// text for failures outside the core taxonomy, such as usage errors.
func describe(err error) string {
	switch {
	case core.IsSessionError(err),
		errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrTransient),
		errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrMutationPending):
		return core.UserMessage(err)
	default:
		return err.Error()
	}
}

func execute(cmd command, cfg *config.Config, logger *log.Logger, args []string) error {
	ctx, stop := cli.ShutdownContext(context.Background(), logger)
	defer stop()

	// One request ID per invocation ties the server logs together.
	requestID := trace.GenerateRequestID()
	ctx = trace.WithRequestID(ctx, requestID)
	logger.DebugContext(ctx, "Running command", "command", cmd.name, "request_id", requestID)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cli.CloseWithTimeout(logger, shutdownTimeout, a.Close)

	if err := a.Start(ctx); err != nil {
		return err
	}
	return cmd.run(ctx, a, args)
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: bollette <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nDATA_BACKEND: %s\n", strings.Join(backend.GetBackendTypeStrings(), ", "))
	fmt.Fprintf(os.Stderr, "PUSH_BACKEND: %s\n", strings.Join(config.PushBackends, ", "))
	fmt.Fprintf(os.Stderr, "See .env.example for every setting.\n")
}
