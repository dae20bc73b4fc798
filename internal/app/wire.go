package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	s3blob "github.com/alanyoungcy/polyhedge/internal/blob/s3"
	"github.com/alanyoungcy/polyhedge/internal/cache/redis"
	"github.com/alanyoungcy/polyhedge/internal/config"
	"github.com/alanyoungcy/polyhedge/internal/domain"
	"github.com/alanyoungcy/polyhedge/internal/notify"
	"github.com/alanyoungcy/polyhedge/internal/server/handler"
	filestore "github.com/alanyoungcy/polyhedge/internal/store/file"
	pebblestore "github.com/alanyoungcy/polyhedge/internal/store/pebble"
	"github.com/alanyoungcy/polyhedge/internal/store/postgres"
	"github.com/alanyoungcy/polyhedge/internal/store/sqlite"
)

// Dependencies bundles the concrete backends the modes run on. Optional
// backends are nil when not configured.
type Dependencies struct {
	PositionStore domain.PositionStore
	// Journal is nil for the file backend.
	Journal   domain.JournalStore
	StoreName string

	// Redis-backed; nil unless redis.enabled.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless s3.enabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier

	// HealthChecks probes every connected backend.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs the configured backends and returns them with a cleanup
// function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		StoreName:    strings.ToLower(cfg.Store.Backend),
		HealthChecks: map[string]handler.HealthCheck{},
	}

	// --- Position store and journal ---
	switch deps.StoreName {
	case "file":
		store, err := filestore.NewPositionStore(cfg.Store.Dir)
		if err != nil {
			return fail(fmt.Errorf("wire: file store: %w", err))
		}
		deps.PositionStore = store
		logger.WarnContext(ctx, "file store keeps no trade journal: /api/journal is disabled and archived records omit journal entries")

	case "sqlite":
		if err := ensureParentDir(cfg.SQLite.Path); err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.PositionStore, deps.Journal = store, store

	case "pebble":
		store, err := pebblestore.Open(cfg.Pebble.Dir)
		if err != nil {
			return fail(fmt.Errorf("wire: pebble: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.PositionStore, deps.Journal = store, store

	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.Journal = postgres.NewJournalStore(pool)
		deps.HealthChecks["postgres"] = pool.Ping

	default:
		return fail(fmt.Errorf("wire: unknown store backend %q", cfg.Store.Backend))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 closed-position archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.Journal)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("store", deps.StoreName),
		slog.Bool("journal", deps.Journal != nil),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
