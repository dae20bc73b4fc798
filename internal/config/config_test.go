package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.85, cfg.Strategy.TakeProfitProb)
	assert.Equal(t, 0.78, cfg.Strategy.StopLossProb)
	assert.Equal(t, 1.0, cfg.Strategy.HedgeFraction)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval.Duration)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Strategy.StopLossProb = 0.9
	cfg.Strategy.HedgeFraction = 0
	cfg.Store.Backend = "mongo"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"stop_loss_prob (0.9) must be below take_profit_prob (0.85)",
		"hedge_fraction must be in (0,1]",
		`unknown backend "mongo"`,
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateMonitorNeedsRedis(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis must be enabled")
	assert.Contains(t, err.Error(), "yes_token_id is required")

	cfg.Redis.Enabled = true
	cfg.Market.YesTokenID = "yes"
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "polyhedge.toml", `
mode = "full"

[market]
id = "will-it-rain"
yes_token_id = "tok-yes"

[strategy]
take_profit_prob = 0.9
hedge_fraction = 0.5

[store]
backend = "sqlite"

[redis]
enabled = true
lock_ttl = "10s"

[monitor]
interval = "2s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "will-it-rain", cfg.Market.ID)
	assert.Equal(t, 0.9, cfg.Strategy.TakeProfitProb)
	assert.Equal(t, 0.78, cfg.Strategy.StopLossProb, "unset keys keep defaults")
	assert.Equal(t, 0.5, cfg.Strategy.HedgeFraction)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, 2*time.Second, cfg.Monitor.Interval.Duration)
}

func TestLoadTOMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "polyhedge.toml", "[strategy]\ntake_profit = 0.9\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy.take_profit")
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "polyhedge.yaml", `
market:
  id: election
strategy:
  stop_loss_prob: 0.7
server:
  port: 9090
  cors_origins: ["https://dash.example.com"]
  dedup_ttl: 1m
notify:
  events: [hedge, exit]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "election", cfg.Market.ID)
	assert.Equal(t, 0.7, cfg.Strategy.StopLossProb)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, time.Minute, cfg.Server.DedupTTL.Duration)
	assert.Equal(t, []string{"hedge", "exit"}, cfg.Notify.Events)
}

func TestLoadYAMLBadDuration(t *testing.T) {
	path := writeFile(t, "polyhedge.yml", "monitor:\n  interval: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "polyhedge.json", "{}")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}

func TestValidateTrustedProxies(t *testing.T) {
	cfg := Defaults()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10", "::1"}
	assert.NoError(t, cfg.Validate())

	cfg.Server.TrustedProxies = []string{"10.0.0.0/33", "proxy.internal"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `trusted_proxies entry "10.0.0.0/33"`)
	assert.Contains(t, err.Error(), `trusted_proxies entry "proxy.internal"`)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYHEDGE_MARKET_ID", "from-env")
	t.Setenv("POLYHEDGE_STRATEGY_HEDGE_FRACTION", "0.25")
	t.Setenv("POLYHEDGE_REDIS_ENABLED", "true")
	t.Setenv("POLYHEDGE_SERVER_RATE_WINDOW", "30s")
	t.Setenv("POLYHEDGE_NOTIFY_EVENTS", "hedge, exit,,error")
	t.Setenv("POLYHEDGE_SERVER_PORT", "not-a-number")
	t.Setenv("POLYHEDGE_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.10")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Market.ID)
	assert.Equal(t, 0.25, cfg.Strategy.HedgeFraction)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, []string{"hedge", "exit", "error"}, cfg.Notify.Events)
	assert.Equal(t, 8080, cfg.Server.Port, "unparseable values are ignored")
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.Server.TrustedProxies)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.Events = []string{"hedge"}

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Empty(t, red.Redis.Password, "empty secrets stay empty")

	red.Notify.Events[0] = "changed"
	assert.Equal(t, "hedge", cfg.Notify.Events[0])
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	def := Defaults()
	assert.Equal(t, def.Strategy, cfg.Strategy)
	assert.Equal(t, def.Store, cfg.Store)
	assert.Equal(t, def.Postgres, cfg.Postgres)
	assert.Equal(t, def.Redis, cfg.Redis)
	assert.Equal(t, def.S3, cfg.S3)
	assert.Equal(t, def.Monitor, cfg.Monitor)
	assert.Equal(t, def.Server.RateWindow, cfg.Server.RateWindow)
	assert.Equal(t, def.Server.DedupTTL, cfg.Server.DedupTTL)
}
