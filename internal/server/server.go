// Package server exposes the position service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/rs/cors"

	"github.com/alanyoungcy/polyhedge/internal/domain"
	"github.com/alanyoungcy/polyhedge/internal/server/handler"
	"github.com/alanyoungcy/polyhedge/internal/server/middleware"
	"github.com/alanyoungcy/polyhedge/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey enables authentication when non-empty.
	APIKey string
	// RateLimit is the per-IP request budget per RateWindow; zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration

	// TrustedProxies are the reverse proxies whose X-Forwarded-For is
	// believed when keying the rate limit. Empty keys on the peer address.
	TrustedProxies []netip.Prefix
}

// Handlers aggregates the HTTP handlers. Positions, Health and Status are
// required; the rest are registered only when their backend is configured.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Journal   *handler.JournalHandler
	Prices    *handler.PriceHandler
	Archive   *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging,
// rate limiting and auth, outermost first.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewHandler(cfg, handlers, hub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// NewHandler builds the routed and wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/position", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/bet", handlers.Positions.Bet)
	mux.HandleFunc("POST /api/position/{action}", handlers.Positions.Action)
	mux.HandleFunc("POST /api/reset", handlers.Positions.Reset)

	if handlers.Journal != nil {
		mux.HandleFunc("GET /api/journal", handlers.Journal.ListJournal)
	}
	if handlers.Prices != nil {
		mux.HandleFunc("GET /api/prices/{token}", handlers.Prices.GetPrice)
		mux.HandleFunc("PUT /api/prices/{token}", handlers.Prices.SetPrice)
	}
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.ListClosed)
		mux.HandleFunc("GET /api/archive/{path...}", handlers.Archive.GetClosed)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, cfg.TrustedProxies, logger)(h)
	h = middleware.Logging(logger)(h)
	h = corsOptions(cfg.CORSOrigins).Handler(h)
	return h
}

func corsOptions(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", "Idempotency-Key"},
		MaxAge:         86400,
	})
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
