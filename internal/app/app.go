// Package app owns the application lifecycle: wiring every dependency
// (stores, caches, blob storage, services, scheduler, notifications)
// and running the goroutines the configured mode calls for.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tessera-trading/advisor/internal/config"
)

// App holds the config, logger and the teardown stack accumulated
// while wiring.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependency graph, dispatches to the configured mode,
// and blocks until the context ends.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	run, ok := map[string]func(context.Context, *Dependencies) error{
		"advise":   a.AdviseMode,
		"monitor":  a.MonitorMode,
		"simulate": a.SimulateMode,
		"server":   a.ServerMode,
		"full":     a.FullMode,
	}[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	return run(ctx, deps)
}

// Close releases everything in reverse wiring order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
