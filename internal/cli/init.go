// Package cli provides common CLI initialization utilities.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bollette/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger at the named level and installs it
// as the slog default.
func SetupLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := log.DefaultConfig()
	cfg.Level = lvl
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger, nil
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM. stop
// releases the signal handler.
func ShutdownContext(parent context.Context, logger *log.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}

// CloseWithTimeout runs closeFn with a fresh context bounded by timeout.
func CloseWithTimeout(logger *log.Logger, timeout time.Duration, closeFn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := closeFn(ctx); err != nil {
		logger.Error("Shutdown failed", log.FieldOperation, log.OpShutdown, log.FieldError, err)
		return
	}
	if ctx.Err() != nil {
		logger.Warn("Shutdown timeout reached")
	}
}
