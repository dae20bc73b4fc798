// Package app wires the configured backends into the position service and
// runs the selected mode until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polyhedge/internal/config"
	"github.com/alanyoungcy/polyhedge/internal/service"
	"github.com/alanyoungcy/polyhedge/internal/strategy"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run wires the dependencies, builds the position service and blocks in
// the configured mode until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("market", a.cfg.Market.ID),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svc, err := a.newPositionService(deps)
	if err != nil {
		return err
	}

	switch mode := strings.ToLower(a.cfg.Mode); mode {
	case "server":
		return a.ServerMode(ctx, deps, svc)
	case "monitor":
		return a.MonitorMode(ctx, deps, svc)
	case "full":
		return a.FullMode(ctx, deps, svc)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// newPositionService builds the engine from the strategy section and
// attaches whichever optional backends were wired.
func (a *App) newPositionService(deps *Dependencies) (*service.PositionService, error) {
	policy := strategy.PolicyFromFloats(
		a.cfg.Strategy.TakeProfitProb,
		a.cfg.Strategy.StopLossProb,
		a.cfg.Strategy.HedgeFraction,
	)
	engine, err := strategy.NewEngine(policy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if policy.FullFlip() {
		a.logger.Warn("hedge_fraction is 1: a hedge sells every YES share and leaves a one-sided NO position")
	}

	opts := service.Options{
		Journal:  deps.Journal,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Dedup:    service.NewDedup(a.cfg.Server.DedupTTL.Duration),
		LockTTL:  a.cfg.Redis.LockTTL.Duration,
	}
	if deps.Archiver != nil {
		opts.Archiver = deps.Archiver
	}
	return service.NewPositionService(a.cfg.Market.ID, engine, deps.PositionStore, opts, a.logger), nil
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
