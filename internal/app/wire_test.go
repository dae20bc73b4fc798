package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyhedge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireFileBackendHasNoJournal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Dir = t.TempDir()

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "file", deps.StoreName)
	assert.NotNil(t, deps.PositionStore)
	assert.Nil(t, deps.Journal)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
}

func TestWireSQLiteBackendKeepsJournal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = "sqlite"
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "nested", "polyhedge.db")

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.PositionStore)
	assert.NotNil(t, deps.Journal)
}

func TestWireUnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = "mongo"

	_, _, err := Wire(context.Background(), &cfg, testLogger())
	assert.ErrorContains(t, err, `unknown store backend "mongo"`)
}
