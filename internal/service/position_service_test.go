package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyhedge/internal/domain"
	"github.com/alanyoungcy/polyhedge/internal/strategy"
)

const testMarket = "will-it-rain"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func q(prob, yes, no string) domain.Quote {
	return domain.Quote{
		CurrentProb: decimal.RequireFromString(prob),
		YesPrice:    decimal.RequireFromString(yes),
		NoPrice:     decimal.RequireFromString(no),
	}
}

func newService(t *testing.T, store domain.PositionStore, opts Options) *PositionService {
	t.Helper()
	engine, err := strategy.NewEngine(strategy.DefaultPolicy())
	require.NoError(t, err)
	return NewPositionService(testMarket, engine, store, opts, discardLogger())
}

func enter(t *testing.T, svc *PositionService) {
	t.Helper()
	_, err := svc.Enter(context.Background(), EnterRequest{
		AmountUSD: decimal.NewFromInt(1000),
		Quote:     q("0.80", "0.80", "0.20"),
	})
	require.NoError(t, err)
}

func TestEnter_PersistsAndAssignsBookkeeping(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})

	res, err := svc.Enter(context.Background(), EnterRequest{
		AmountUSD: decimal.NewFromInt(1000),
		Quote:     q("0.80", "0.80", "0.20"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1250", res.SharesBought.String())

	stored := store.stored(testMarket)
	assert.NotEmpty(t, stored.ID)
	assert.NotNil(t, stored.OpenedAt)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, "1250", stored.YesShares.String())
}

func TestEnter_SecondEnterIsAlreadyOpen(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})
	enter(t, svc)

	_, err := svc.Enter(context.Background(), EnterRequest{
		AmountUSD: decimal.NewFromInt(10),
		Quote:     q("0.5", "0.5", "0.5"),
	})
	assert.True(t, errors.Is(err, domain.ErrAlreadyOpen))
	assert.Equal(t, int64(1), store.stored(testMarket).Version)
}

func TestEvaluate_DoesNotPersist(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})
	enter(t, svc)

	rec, err := svc.Evaluate(context.Background(), q("0.86", "0.86", "0.14"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTakeProfit, rec.Decision)
	assert.Equal(t, int64(1), store.stored(testMarket).Version)
}

func TestHedgeThenExitLifecycle(t *testing.T) {
	store := newMemStore()
	journal := &memJournal{}
	bus := &memBus{}
	notifier := &memNotifier{}
	archiver := &memArchiver{}
	svc := newService(t, store, Options{
		Journal:  journal,
		Bus:      bus,
		Notifier: notifier,
		Archiver: archiver,
	})
	ctx := context.Background()
	enter(t, svc)

	hres, err := svc.Hedge(ctx, q("0.86", "0.86", "0.14"))
	require.NoError(t, err)
	assert.True(t, hres.FullFlip)
	assert.Equal(t, "7678.57", hres.NoBought.StringFixed(2))

	// Market swings back toward YES: the NO leg is now the losing side.
	eres, err := svc.Exit(ctx, q("0.70", "0.70", "0.30"))
	require.NoError(t, err)
	assert.Equal(t, "2303.571429", eres.Proceeds.String())

	pos, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, pos.HasPosition())
	assert.Equal(t, int64(3), pos.Version)
	assert.Equal(t, "2303.571429", pos.TotalWithdrawn.String())

	require.Len(t, journal.entries, 3)
	assert.Equal(t, domain.JournalEnter, journal.entries[0].Action)
	assert.Equal(t, domain.JournalHedge, journal.entries[1].Action)
	assert.Equal(t, domain.JournalExit, journal.entries[2].Action)
	for _, e := range journal.entries {
		assert.Equal(t, pos.ID, e.PositionID)
	}

	require.Len(t, archiver.archived, 1)
	assert.Equal(t, pos.ID, archiver.archived[0].ID)

	require.Equal(t, 3, bus.count())
	var last domain.PositionEvent
	require.NoError(t, json.Unmarshal(bus.messages[2], &last))
	assert.Equal(t, domain.EventPositionClosed, last.Event)
	assert.Equal(t, "positions/closed/"+pos.ID+".json", last.Detail["archive_path"])
	assert.False(t, last.Position.HasPosition)

	assert.Equal(t, []string{"enter", "hedge", "exit"}, notifier.events)
}

func TestReset_ClearsPositionAndKeepsVersionMonotonic(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})
	enter(t, svc)

	require.NoError(t, svc.Reset(context.Background()))

	stored := store.stored(testMarket)
	assert.False(t, stored.HasPosition())
	assert.Empty(t, stored.ID)
	assert.Equal(t, int64(2), stored.Version)
}

func TestConcurrentHedges_OnlyOneSucceeds(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})
	enter(t, svc)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Hedge(context.Background(), q("0.86", "0.86", "0.14"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		assert.True(t, errors.Is(err, domain.ErrNoPosition), "unexpected error: %v", err)
	}
	stored := store.stored(testMarket)
	assert.True(t, stored.YesShares.IsZero())
	assert.Equal(t, "7678.57", stored.NoShares.StringFixed(2))
	assert.Equal(t, int64(2), stored.Version)
}

func TestPersistenceFailure_LeavesStoreUnchangedAndReloads(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})
	ctx := context.Background()
	enter(t, svc)
	before := store.stored(testMarket)
	loadsBefore := store.loadCount()

	store.setFailSave(true)
	_, err := svc.Hedge(ctx, q("0.86", "0.86", "0.14"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPersistence))
	assert.Equal(t, "persistence", domain.KindOf(err))
	assert.Contains(t, err.Error(), errDiskFull.Error())
	assert.Equal(t, before, store.stored(testMarket))

	store.setFailSave(false)
	pos, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, pos)
	assert.Equal(t, loadsBefore+1, store.loadCount())

	_, err = svc.Hedge(ctx, q("0.86", "0.86", "0.14"))
	require.NoError(t, err)
}

func TestDuplicateRequestRejected(t *testing.T) {
	svc := newService(t, newMemStore(), Options{Dedup: NewDedup(time.Minute)})
	ctx := WithRequestID(context.Background(), "req-1")
	req := EnterRequest{AmountUSD: decimal.NewFromInt(100), Quote: q("0.5", "0.5", "0.5")}

	_, err := svc.Enter(ctx, req)
	require.NoError(t, err)

	_, err = svc.Enter(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrDuplicateRequest))
	assert.Equal(t, "duplicate_request", domain.KindOf(err))
}

func TestFailedRequestCanBeRetriedWithSameID(t *testing.T) {
	svc := newService(t, newMemStore(), Options{Dedup: NewDedup(time.Minute)})
	enter(t, svc)
	ctx := WithRequestID(context.Background(), "hedge-1")

	_, err := svc.Hedge(ctx, q("0.80", "0.80", "0.20"))
	assert.True(t, errors.Is(err, domain.ErrNotTriggered))

	_, err = svc.Hedge(ctx, q("0.90", "0.90", "0.10"))
	assert.NoError(t, err)
}

func TestDistributedLockHeldIsBusy(t *testing.T) {
	svc := newService(t, newMemStore(), Options{Locks: heldLocks{}})

	_, err := svc.Enter(context.Background(), EnterRequest{
		AmountUSD: decimal.NewFromInt(100),
		Quote:     q("0.5", "0.5", "0.5"),
	})
	require.Error(t, err)
	assert.Equal(t, "busy", domain.KindOf(err))
}

func TestDistributedLockKeyAndReload(t *testing.T) {
	store := newMemStore()
	locks := &countingLocks{}
	svc := newService(t, store, Options{Locks: locks})
	enter(t, svc)

	// Another instance writes the record behind this one's back.
	other := newService(t, store, Options{Locks: locks})
	require.NoError(t, other.Reset(context.Background()))

	pos, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, pos.HasPosition())
	assert.Equal(t, []string{"position:" + testMarket, "position:" + testMarket}, locks.acquired)
}
