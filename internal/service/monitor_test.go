package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

func newPrices(yes float64) *memPrices {
	return &memPrices{
		prices: map[string]float64{"yes-token": yes},
		ts:     time.Now(),
	}
}

func TestMonitorTick_EvaluatesAndPublishes(t *testing.T) {
	store := newMemStore()
	bus := &memBus{}
	svc := newService(t, store, Options{Bus: bus})
	enter(t, svc)
	published := bus.count()

	m := NewMonitor(svc, newPrices(0.86), MonitorConfig{YesTokenID: "yes-token"}, discardLogger())
	rec, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTakeProfit, rec.Decision)

	// Without auto-execute the position is untouched.
	assert.Equal(t, int64(1), store.stored(testMarket).Version)

	require.Equal(t, published+1, bus.count())
	var evt domain.PositionEvent
	require.NoError(t, json.Unmarshal(bus.messages[published], &evt))
	assert.Equal(t, domain.EventEvaluated, evt.Event)
	assert.Equal(t, "TAKE_PROFIT", evt.Detail["decision"])
	assert.Equal(t, "0.14", evt.Detail["no_price"])
}

func TestMonitorTick_AutoHedge(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})
	enter(t, svc)

	m := NewMonitor(svc, newPrices(0.86), MonitorConfig{YesTokenID: "yes-token", AutoExecute: true}, discardLogger())
	_, err := m.Tick(context.Background())
	require.NoError(t, err)

	stored := store.stored(testMarket)
	assert.True(t, stored.YesShares.IsZero())
	assert.Equal(t, "7678.57", stored.NoShares.StringFixed(2))

	// A second tick at the same price has nothing left to hedge.
	_, err = m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.stored(testMarket).Version)
}

func TestMonitorTick_AutoExitUsesNoToken(t *testing.T) {
	store := newMemStore()
	svc := newService(t, store, Options{})
	enter(t, svc)

	prices := newPrices(0.75)
	prices.prices["no-token"] = 0.24
	m := NewMonitor(svc, prices, MonitorConfig{
		YesTokenID:  "yes-token",
		NoTokenID:   "no-token",
		AutoExecute: true,
	}, discardLogger())

	rec, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionStopLoss, rec.Decision)

	stored := store.stored(testMarket)
	assert.False(t, stored.HasPosition())
	assert.Equal(t, "937.5", stored.TotalWithdrawn.String())
}

func TestMonitorTick_QuoteErrors(t *testing.T) {
	svc := newService(t, newMemStore(), Options{})

	missing := NewMonitor(svc, newPrices(0.5), MonitorConfig{YesTokenID: "other"}, discardLogger())
	_, err := missing.Tick(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	stale := newPrices(0.5)
	stale.ts = time.Now().Add(-time.Hour)
	m := NewMonitor(svc, stale, MonitorConfig{YesTokenID: "yes-token", MaxQuoteAge: time.Minute}, discardLogger())
	_, err = m.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")
}
