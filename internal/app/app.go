// Package app provides the top-level application lifecycle for the flash
// bot. It wires the simulated chain, the guarded engine, the request
// executor and the optional backends (Postgres, Redis, S3, metrics), then
// runs the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/flashbot/internal/config"
	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/guard"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	startedAt time.Time
	deps      *Dependencies
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now(),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, and blocks until the mode finishes or the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.deps = deps

	switch strings.ToLower(a.cfg.Mode) {
	case "serve":
		return a.ServeMode(ctx, deps)
	case "once", "fork":
		return a.OnceMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Status summarizes the running instance.
func (a *App) Status() domain.BotStatus {
	st := domain.BotStatus{
		Mode:          a.cfg.Mode,
		Operator:      a.cfg.Operator.Address,
		Custody:       a.cfg.Engine.Custody,
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Strategies:    a.cfg.Engine.Strategies,
	}
	if a.deps != nil {
		st.InCall = a.deps.Engine.State() == guard.InCall
		st.Executions = a.deps.Recorded()
	}
	if len(st.Strategies) == 0 {
		st.Strategies = []string{"arbitrage", "liquidation", "frontrun", "sandwich", "hft"}
	}
	return st
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
