package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

func samplePosition() domain.Position {
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := domain.EmptyPosition()
	p.ID = "pos-1"
	p.YesShares = decimal.RequireFromString("1250")
	p.TotalInvested = decimal.RequireFromString("1000")
	p.EntryProb = decimal.RequireFromString("0.8")
	p.AvgCostYes = decimal.RequireFromString("0.8")
	p.Version = 1
	p.OpenedAt = &opened
	p.UpdatedAt = opened
	return p
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s, err := NewPositionStore(t.TempDir())
	require.NoError(t, err)

	p, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.False(t, p.HasPosition())
	assert.Equal(t, int64(0), p.Version)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPositionStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	want := samplePosition()
	require.NoError(t, s.Save(ctx, "btc/up", want))

	got, err := s.Load(ctx, "btc/up")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.YesShares.Equal(got.YesShares))
	assert.True(t, want.TotalInvested.Equal(got.TotalInvested))
	assert.Equal(t, want.Version, got.Version)
	require.NotNil(t, got.OpenedAt)
	assert.True(t, want.OpenedAt.Equal(*got.OpenedAt))

	// Market names are sanitized and no temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "btc_up.json", entries[0].Name())
}

func TestSaveOverwrites(t *testing.T) {
	s, err := NewPositionStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "m", samplePosition()))
	require.NoError(t, s.Save(ctx, "m", domain.EmptyPosition()))

	got, err := s.Load(ctx, "m")
	require.NoError(t, err)
	assert.False(t, got.HasPosition())
}

func TestFailedSaveKeepsPreviousRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPositionStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "m", samplePosition()))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.Save(cancelled, "m", domain.EmptyPosition()))

	got, err := s.Load(ctx, "m")
	require.NoError(t, err)
	assert.True(t, got.HasPosition())
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPositionStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.json"), []byte("{not json"), 0o644))

	_, err = s.Load(context.Background(), "m")
	assert.Error(t, err)
}
