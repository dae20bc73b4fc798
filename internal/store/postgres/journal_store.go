package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// JournalStore implements domain.JournalStore on the audit_log table.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const journalSelectCols = `id, market, position_id, event, quote, detail, position, created_at`

// Append inserts a journal entry. Quote, detail and position are stored as
// JSONB.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	var quoteJSON, detailJSON []byte
	var err error
	if e.Quote != nil {
		if quoteJSON, err = json.Marshal(e.Quote); err != nil {
			return fmt.Errorf("postgres: marshal journal quote: %w", err)
		}
	}
	if e.Detail != nil {
		if detailJSON, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("postgres: marshal journal detail: %w", err)
		}
	}
	posJSON, err := json.Marshal(e.Position)
	if err != nil {
		return fmt.Errorf("postgres: marshal journal position: %w", err)
	}

	const query = `
		INSERT INTO audit_log (id, market, position_id, event, quote, detail, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, query,
		e.ID, e.Market, e.PositionID, string(e.Action),
		quoteJSON, detailJSON, posJSON, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: append journal %s: %w", e.Action, err)
	}
	return nil
}

// List returns a market's entries newest first with pagination and optional
// time filtering.
func (s *JournalStore) List(ctx context.Context, market string, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query := `SELECT ` + journalSelectCols + ` FROM audit_log WHERE market = $1`
	args := []any{market}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()
	return scanJournalRows(rows)
}

// ListByPosition returns every entry recorded for positionID, oldest first.
func (s *JournalStore) ListByPosition(ctx context.Context, positionID string) ([]domain.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+journalSelectCols+` FROM audit_log WHERE position_id = $1 ORDER BY created_at ASC`,
		positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal for %s: %w", positionID, err)
	}
	defer rows.Close()
	return scanJournalRows(rows)
}

func scanJournalRows(rows pgx.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e                              domain.JournalEntry
			action                         string
			quoteJSON, detailJSON, posJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Market, &e.PositionID, &action,
			&quoteJSON, &detailJSON, &posJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		e.Action = domain.JournalAction(action)

		if quoteJSON != nil {
			e.Quote = &domain.Quote{}
			if err := json.Unmarshal(quoteJSON, e.Quote); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal journal quote: %w", err)
			}
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal journal detail: %w", err)
			}
		}
		if err := json.Unmarshal(posJSON, &e.Position); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal journal position: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: journal rows: %w", err)
	}
	return entries, nil
}

var _ domain.JournalStore = (*JournalStore)(nil)
