package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "polyhedge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPositionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.Load(ctx, "m")
	require.NoError(t, err)
	assert.False(t, empty.HasPosition())

	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := domain.EmptyPosition()
	want.ID = "pos-1"
	want.YesShares = decimal.RequireFromString("1250")
	want.NoShares = decimal.RequireFromString("7678.571429")
	want.TotalInvested = decimal.RequireFromString("1000")
	want.EntryProb = decimal.RequireFromString("0.8")
	want.AvgCostYes = decimal.RequireFromString("0.8")
	want.AvgCostNo = decimal.RequireFromString("0.14")
	want.Version = 2
	want.OpenedAt = &opened
	want.UpdatedAt = opened.Add(time.Minute)
	require.NoError(t, s.Save(ctx, "m", want))

	got, err := s.Load(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "pos-1", got.ID)
	assert.Equal(t, "7678.571429", got.NoShares.String())
	assert.True(t, got.YesShares.Equal(want.YesShares))
	assert.True(t, got.AvgCostNo.Equal(want.AvgCostNo))
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.OpenedAt)
	assert.True(t, got.OpenedAt.Equal(opened))
	assert.True(t, got.UpdatedAt.Equal(want.UpdatedAt))

	// Upsert replaces the row.
	reset := domain.EmptyPosition()
	reset.Version = 3
	reset.UpdatedAt = opened.Add(2 * time.Minute)
	require.NoError(t, s.Save(ctx, "m", reset))

	got, err = s.Load(ctx, "m")
	require.NoError(t, err)
	assert.False(t, got.HasPosition())
	assert.Nil(t, got.OpenedAt)
	assert.Empty(t, got.ID)
	assert.Equal(t, int64(3), got.Version)
}

func TestJournal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	quote := &domain.Quote{
		CurrentProb: decimal.RequireFromString("0.86"),
		YesPrice:    decimal.RequireFromString("0.86"),
		NoPrice:     decimal.RequireFromString("0.14"),
	}
	entries := []domain.JournalEntry{
		{ID: "j1", Market: "m", PositionID: "p1", Action: domain.JournalEnter, CreatedAt: base},
		{ID: "j2", Market: "m", PositionID: "p1", Action: domain.JournalHedge, Quote: quote,
			Detail: map[string]any{"full_flip": true}, CreatedAt: base.Add(time.Minute)},
		{ID: "j3", Market: "other", PositionID: "p2", Action: domain.JournalEnter, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		e.Position = domain.EmptyPosition()
		require.NoError(t, s.Append(ctx, e))
	}

	list, err := s.List(ctx, "m", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "j2", list[0].ID, "newest first")
	require.NotNil(t, list[0].Quote)
	assert.Equal(t, "0.14", list[0].Quote.NoPrice.String())
	assert.Equal(t, true, list[0].Detail["full_flip"])
	assert.Nil(t, list[1].Quote)

	limited, err := s.List(ctx, "m", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "j1", limited[0].ID)

	byPos, err := s.ListByPosition(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, byPos, 2)
	assert.Equal(t, domain.JournalEnter, byPos[0].Action)
	assert.Equal(t, domain.JournalHedge, byPos[1].Action)
}
