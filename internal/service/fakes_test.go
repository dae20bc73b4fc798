package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

var errDiskFull = errors.New("disk full")

type memStore struct {
	mu       sync.Mutex
	pos      map[string]domain.Position
	failSave bool
	loads    int
}

func newMemStore() *memStore {
	return &memStore{pos: make(map[string]domain.Position)}
}

func (m *memStore) Load(_ context.Context, market string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if p, ok := m.pos[market]; ok {
		return p, nil
	}
	return domain.EmptyPosition(), nil
}

func (m *memStore) Save(_ context.Context, market string, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errDiskFull
	}
	m.pos[market] = pos
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) stored(market string) domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pos[market]; ok {
		return p
	}
	return domain.EmptyPosition()
}

func (m *memStore) setFailSave(v bool) {
	m.mu.Lock()
	m.failSave = v
	m.mu.Unlock()
}

func (m *memStore) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

type memJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
}

func (j *memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) List(_ context.Context, market string, _ domain.ListOpts) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.Market == market {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memJournal) ListByPosition(_ context.Context, positionID string) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.PositionID == positionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memBus struct {
	mu       sync.Mutex
	messages [][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if channel == domain.PositionsChannel {
		b.messages = append(b.messages, payload)
	}
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type countingLocks struct {
	mu       sync.Mutex
	acquired []string
}

func (l *countingLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, key)
	return func() {}, nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type memArchiver struct {
	archived []domain.Position
}

func (a *memArchiver) ArchiveClosed(_ context.Context, _ string, pos domain.Position) (string, error) {
	a.archived = append(a.archived, pos)
	return "positions/closed/" + pos.ID + ".json", nil
}

type memPrices struct {
	prices map[string]float64
	ts     time.Time
}

func (p *memPrices) SetPrice(_ context.Context, assetID string, price float64, ts time.Time) error {
	p.prices[assetID] = price
	p.ts = ts
	return nil
}

func (p *memPrices) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	v, ok := p.prices[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v, p.ts, nil
}
