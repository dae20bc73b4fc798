// Package config defines the polyhedge configuration, its defaults and
// validation.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by POLYHEDGE_*
// environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market" yaml:"market"`
	Strategy StrategyConfig `toml:"strategy" yaml:"strategy"`
	Store    StoreConfig    `toml:"store" yaml:"store"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	Pebble   PebbleConfig   `toml:"pebble" yaml:"pebble"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Monitor  MonitorConfig  `toml:"monitor" yaml:"monitor"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// MarketConfig identifies the binary market the engine manages.
type MarketConfig struct {
	ID string `toml:"id" yaml:"id"`
	// YesTokenID and NoTokenID are the price-cache keys the monitor polls.
	YesTokenID string `toml:"yes_token_id" yaml:"yes_token_id"`
	NoTokenID  string `toml:"no_token_id" yaml:"no_token_id"`
}

// StrategyConfig holds the threshold policy.
type StrategyConfig struct {
	TakeProfitProb float64 `toml:"take_profit_prob" yaml:"take_profit_prob"`
	StopLossProb   float64 `toml:"stop_loss_prob" yaml:"stop_loss_prob"`
	HedgeFraction  float64 `toml:"hedge_fraction" yaml:"hedge_fraction"`
	// AutoExecute lets the monitor hedge and exit on its own.
	AutoExecute bool `toml:"auto_execute" yaml:"auto_execute"`
}

// StoreConfig selects the position store backend.
type StoreConfig struct {
	// Backend is one of file, sqlite, pebble, postgres.
	Backend string `toml:"backend" yaml:"backend"`
	// Dir is the directory of the file backend.
	Dir string `toml:"dir" yaml:"dir"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig holds the SQLite database path.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// PebbleConfig holds the Pebble data directory.
type PebbleConfig struct {
	Dir string `toml:"dir" yaml:"dir"`
}

// RedisConfig holds Redis connection parameters. Redis backs the
// distributed lock, the event bus, the rate limiter and the price cache.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Addr       string   `toml:"addr" yaml:"addr"`
	Password   string   `toml:"password" yaml:"password"`
	DB         int      `toml:"db" yaml:"db"`
	PoolSize   int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	LockTTL    Duration `toml:"lock_ttl" yaml:"lock_ttl"`
	PriceTTL   Duration `toml:"price_ttl" yaml:"price_ttl"`
}

// S3Config holds the object store used for the closed-position archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port" yaml:"port"`
	CORSOrigins     []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey          string   `toml:"api_key" yaml:"api_key"`
	RateLimit       int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow      Duration `toml:"rate_window" yaml:"rate_window"`
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty means the peer address is the client.
	TrustedProxies  []string `toml:"trusted_proxies" yaml:"trusted_proxies"`
	DedupTTL        Duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MonitorConfig holds the price-cache watcher parameters.
type MonitorConfig struct {
	Interval    Duration `toml:"interval" yaml:"interval"`
	MaxQuoteAge Duration `toml:"max_quote_age" yaml:"max_quote_age"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// Duration is a time.Duration that decodes from strings such as "5s" in
// both TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"5s\"", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Defaults returns a Config populated with the values config.example.toml
// documents.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			ID: "default",
		},
		Strategy: StrategyConfig{
			TakeProfitProb: 0.85,
			StopLossProb:   0.78,
			HedgeFraction:  1,
		},
		Store: StoreConfig{
			Backend: "file",
			Dir:     "data",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyhedge",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/polyhedge.db",
		},
		Pebble: PebbleConfig{
			Dir: "data/pebble",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    Duration{30 * time.Second},
			PriceTTL:   Duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyhedge-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8080,
			RateLimit:       120,
			RateWindow:      Duration{time.Minute},
			DedupTTL:        Duration{10 * time.Minute},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			Interval:    Duration{5 * time.Second},
			MaxQuoteAge: Duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
	"full":    true,
}

var validBackends = map[string]bool{
	"file":     true,
	"sqlite":   true,
	"pebble":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the whole configuration and reports every problem in one
// error.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: server, monitor, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if strings.TrimSpace(c.Market.ID) == "" {
		add("market: id must not be empty")
	}

	s := c.Strategy
	if s.TakeProfitProb < 0 || s.TakeProfitProb > 1 {
		add("strategy: take_profit_prob must be in [0,1], got %v", s.TakeProfitProb)
	}
	if s.StopLossProb < 0 || s.StopLossProb > 1 {
		add("strategy: stop_loss_prob must be in [0,1], got %v", s.StopLossProb)
	}
	if s.StopLossProb >= s.TakeProfitProb {
		add("strategy: stop_loss_prob (%v) must be below take_profit_prob (%v)", s.StopLossProb, s.TakeProfitProb)
	}
	if s.HedgeFraction <= 0 || s.HedgeFraction > 1 {
		add("strategy: hedge_fraction must be in (0,1], got %v", s.HedgeFraction)
	}

	switch backend := strings.ToLower(c.Store.Backend); {
	case !validBackends[backend]:
		add("store: unknown backend %q (valid: file, sqlite, pebble, postgres)", c.Store.Backend)
	case backend == "file" && c.Store.Dir == "":
		add("store: dir is required for the file backend")
	case backend == "sqlite" && c.SQLite.Path == "":
		add("sqlite: path is required for the sqlite backend")
	case backend == "pebble" && c.Pebble.Dir == "":
		add("pebble: dir is required for the pebble backend")
	case backend == "postgres" && c.Postgres.DSN == "" && c.Postgres.Host == "":
		add("postgres: dsn or host is required for the postgres backend")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr is required when redis is enabled")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			add("s3: region is required when s3 is enabled")
		}
	}

	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be in 1..65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be positive when rate_limit is set")
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(strings.TrimSpace(p)) {
				add("server: trusted_proxies entry %q is not an IP or CIDR", p)
			}
		}
	}
	if mode == "monitor" || mode == "full" {
		if !c.Redis.Enabled {
			add("monitor: redis must be enabled to read prices in mode %s", mode)
		}
		if c.Market.YesTokenID == "" {
			add("market: yes_token_id is required in mode %s", mode)
		}
		if c.Monitor.Interval.Duration <= 0 {
			add("monitor: interval must be positive")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
