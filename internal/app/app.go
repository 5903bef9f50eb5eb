// Package app provides the top-level lifecycle of the battle service. It
// wires stores, the payment gateway, services and notifications together and
// starts the goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/memebattle/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	startedAt time.Time
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wiring dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "application starting",
		slog.String("mode", mode),
		slog.Bool("postgres", deps.Postgres != nil),
		slog.Bool("s3", deps.S3 != nil),
		slog.Bool("metrics", deps.Metrics != nil),
	)

	switch mode {
	case "api":
		err = a.APIMode(ctx, deps)
	case "worker":
		err = a.WorkerMode(ctx, deps)
	case "full":
		err = a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	return ignoreCanceled(err)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
