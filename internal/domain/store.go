package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the single position record for a market. Save
// must replace the record atomically: after a failed Save the previously
// stored record is still the one Load returns.
type PositionStore interface {
	// Load returns the stored position, or EmptyPosition() when nothing
	// has been stored yet.
	Load(ctx context.Context, market string) (Position, error)
	Save(ctx context.Context, market string, pos Position) error
	Close() error
}

// JournalStore persists an append-only log of position mutations.
type JournalStore interface {
	Append(ctx context.Context, entry JournalEntry) error
	List(ctx context.Context, market string, opts ListOpts) ([]JournalEntry, error)
	ListByPosition(ctx context.Context, positionID string) ([]JournalEntry, error)
}
