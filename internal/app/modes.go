package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyhedge/internal/server"
	"github.com/alanyoungcy/polyhedge/internal/server/handler"
	"github.com/alanyoungcy/polyhedge/internal/server/middleware"
	"github.com/alanyoungcy/polyhedge/internal/server/ws"
	"github.com/alanyoungcy/polyhedge/internal/service"
)

// dedupSweepInterval is how often expired request IDs are dropped.
const dedupSweepInterval = time.Minute

// ServerMode serves the HTTP API (and the WebSocket stream when Redis is
// enabled).
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc *service.PositionService) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps, svc); err != nil {
		return err
	}
	return g.Wait()
}

// MonitorMode watches the price cache and evaluates the position on every
// tick, hedging or exiting itself when auto_execute is set.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies, svc *service.PositionService) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startMonitor(ctx, g, deps, svc); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the HTTP API and the monitor against the same service.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *service.PositionService) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startMonitor(ctx, g, deps, svc); err != nil {
		return err
	}
	if err := a.startHTTPServer(ctx, g, deps, svc); err != nil {
		return err
	}
	return g.Wait()
}

func (a *App) startMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.PositionService) error {
	if deps.PriceCache == nil {
		return fmt.Errorf("app: monitor needs the redis price cache")
	}
	mon := service.NewMonitor(svc, deps.PriceCache, service.MonitorConfig{
		YesTokenID:  a.cfg.Market.YesTokenID,
		NoTokenID:   a.cfg.Market.NoTokenID,
		Interval:    a.cfg.Monitor.Interval.Duration,
		MaxQuoteAge: a.cfg.Monitor.MaxQuoteAge.Duration,
		AutoExecute: a.cfg.Strategy.AutoExecute,
	}, a.logger)
	g.Go(func() error {
		return mon.Run(ctx)
	})
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.PositionService) error {
	proxies, err := middleware.ParseTrustedProxies(a.cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status: &handler.StatusHandler{
			Mode:      a.cfg.Mode,
			Market:    svc.Market(),
			Store:     deps.StoreName,
			Policy:    svc.Policy(),
			StartedAt: a.startedAt,
		},
		Positions: handler.NewPositionHandler(svc, a.logger),
	}
	if deps.Journal != nil {
		handlers.Journal = handler.NewJournalHandler(deps.Journal, svc.Market(), a.logger)
	}
	if deps.PriceCache != nil {
		handlers.Prices = handler.NewPriceHandler(deps.PriceCache, a.logger)
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, svc, svc.Market(), a.cfg.Server.CORSOrigins, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	if dedup := svc.Dedup(); dedup != nil {
		g.Go(func() error {
			return dedup.Run(ctx, dedupSweepInterval)
		})
	}

	srv := server.NewServer(server.Config{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,

		TrustedProxies: proxies,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	a.logger.InfoContext(ctx, "http server configured",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("websocket", hub != nil),
		slog.Bool("journal", handlers.Journal != nil),
		slog.Bool("archive", handlers.Archive != nil),
		slog.Int("trusted_proxies", len(proxies)),
	)
	return nil
}
