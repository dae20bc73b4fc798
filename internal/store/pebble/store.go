// Package pebble implements the position and journal stores on an embedded
// Pebble key-value database.
package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// Key layout:
//
//	p:<market>                        position document
//	j:<market>\x00<nanos><id>         journal entry, market-ordered
//	jp:<position_id>\x00<nanos><id>   journal entry, position-ordered
func positionKey(market string) []byte { return []byte("p:" + market) }

func journalPrefix(market string) []byte { return append([]byte("j:"+market), 0) }

func positionJournalPrefix(positionID string) []byte {
	return append([]byte("jp:"+positionID), 0)
}

func entryKey(prefix []byte, e domain.JournalEntry) []byte {
	key := make([]byte, 0, len(prefix)+8+len(e.ID))
	key = append(key, prefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(e.CreatedAt.UnixNano()))
	return append(key, e.ID...)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Store implements domain.PositionStore and domain.JournalStore.
type Store struct {
	db *pebble.DB
}

// Open opens the Pebble database in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		Cache:        pebble.NewCache(16 << 20),
		MemTableSize: 8 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored position for market, or the empty position.
func (s *Store) Load(_ context.Context, market string) (domain.Position, error) {
	data, closer, err := s.db.Get(positionKey(market))
	if errors.Is(err, pebble.ErrNotFound) {
		return domain.EmptyPosition(), nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("pebble: get position %s: %w", market, err)
	}
	defer closer.Close()

	var p domain.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Position{}, fmt.Errorf("pebble: decode position %s: %w", market, err)
	}
	return p, nil
}

// Save replaces the position with a single synced Set.
func (s *Store) Save(ctx context.Context, market string, p domain.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pebble: encode position %s: %w", market, err)
	}
	if err := s.db.Set(positionKey(market), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble: set position %s: %w", market, err)
	}
	return nil
}

// Append writes the entry under both journal indexes in one batch.
func (s *Store) Append(ctx context.Context, e domain.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("pebble: encode journal entry: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(journalPrefix(e.Market), e), data, nil); err != nil {
		return fmt.Errorf("pebble: batch journal entry: %w", err)
	}
	if e.PositionID != "" {
		if err := b.Set(entryKey(positionJournalPrefix(e.PositionID), e), data, nil); err != nil {
			return fmt.Errorf("pebble: batch journal index: %w", err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble: commit journal entry: %w", err)
	}
	return nil
}

// List returns a market's entries newest first.
func (s *Store) List(ctx context.Context, market string, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	prefix := journalPrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: iterate journal %s: %w", market, err)
	}
	defer iter.Close()

	var (
		out     []domain.JournalEntry
		skipped int
	)
	for iter.Last(); iter.Valid(); iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e domain.JournalEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("pebble: decode journal entry: %w", err)
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			break
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble: iterate journal %s: %w", market, err)
	}
	return out, nil
}

// ListByPosition returns every entry recorded for positionID, oldest first.
func (s *Store) ListByPosition(ctx context.Context, positionID string) ([]domain.JournalEntry, error) {
	prefix := positionJournalPrefix(positionID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: iterate journal for %s: %w", positionID, err)
	}
	defer iter.Close()

	var out []domain.JournalEntry
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e domain.JournalEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("pebble: decode journal entry: %w", err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble: iterate journal for %s: %w", positionID, err)
	}
	return out, nil
}

var (
	_ domain.PositionStore = (*Store)(nil)
	_ domain.JournalStore  = (*Store)(nil)
)
