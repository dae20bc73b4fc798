// Package sqlite implements the position and journal stores on an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	market          TEXT PRIMARY KEY,
	id              TEXT NOT NULL DEFAULT '',
	yes_shares      TEXT NOT NULL,
	no_shares       TEXT NOT NULL,
	total_invested  TEXT NOT NULL,
	total_withdrawn TEXT NOT NULL,
	entry_prob      TEXT NOT NULL,
	avg_cost_yes    TEXT NOT NULL,
	avg_cost_no     TEXT NOT NULL,
	version         INTEGER NOT NULL DEFAULT 0,
	opened_at       TIMESTAMP NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS journal (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	market      TEXT NOT NULL,
	position_id TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	quote       TEXT NULL,
	detail      TEXT NULL,
	position    TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_market ON journal (market, seq);
CREATE INDEX IF NOT EXISTS idx_journal_position ON journal (position_id, seq);
`

// Store implements domain.PositionStore and domain.JournalStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	// One writer connection keeps SQLite from returning SQLITE_BUSY under
	// concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored position for market, or the empty position.
func (s *Store) Load(ctx context.Context, market string) (domain.Position, error) {
	const query = `
		SELECT id, yes_shares, no_shares, total_invested, total_withdrawn,
		       entry_prob, avg_cost_yes, avg_cost_no, version, opened_at, updated_at
		FROM positions WHERE market = ?`

	var (
		p        domain.Position
		openedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, market).Scan(
		&p.ID, &p.YesShares, &p.NoShares, &p.TotalInvested, &p.TotalWithdrawn,
		&p.EntryProb, &p.AvgCostYes, &p.AvgCostNo, &p.Version, &openedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EmptyPosition(), nil
		}
		return domain.Position{}, fmt.Errorf("sqlite: load position %s: %w", market, err)
	}
	if openedAt.Valid {
		t := openedAt.Time.UTC()
		p.OpenedAt = &t
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// Save upserts the position row inside a transaction.
func (s *Store) Save(ctx context.Context, market string, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market, id, yes_shares, no_shares, total_invested, total_withdrawn,
			entry_prob, avg_cost_yes, avg_cost_no, version, opened_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market) DO UPDATE SET
			id = excluded.id,
			yes_shares = excluded.yes_shares,
			no_shares = excluded.no_shares,
			total_invested = excluded.total_invested,
			total_withdrawn = excluded.total_withdrawn,
			entry_prob = excluded.entry_prob,
			avg_cost_yes = excluded.avg_cost_yes,
			avg_cost_no = excluded.avg_cost_no,
			version = excluded.version,
			opened_at = excluded.opened_at,
			updated_at = excluded.updated_at`

	var openedAt sql.NullTime
	if p.OpenedAt != nil {
		openedAt = sql.NullTime{Time: p.OpenedAt.UTC(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save %s: %w", market, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query,
		market, p.ID,
		p.YesShares.String(), p.NoShares.String(),
		p.TotalInvested.String(), p.TotalWithdrawn.String(),
		p.EntryProb.String(), p.AvgCostYes.String(), p.AvgCostNo.String(),
		p.Version, openedAt, p.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("sqlite: save position %s: %w", market, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit position %s: %w", market, err)
	}
	return nil
}

// Append inserts a journal entry.
func (s *Store) Append(ctx context.Context, e domain.JournalEntry) error {
	var quoteJSON, detailJSON sql.NullString
	if e.Quote != nil {
		b, err := json.Marshal(e.Quote)
		if err != nil {
			return fmt.Errorf("sqlite: marshal journal quote: %w", err)
		}
		quoteJSON = sql.NullString{String: string(b), Valid: true}
	}
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("sqlite: marshal journal detail: %w", err)
		}
		detailJSON = sql.NullString{String: string(b), Valid: true}
	}
	posJSON, err := json.Marshal(e.Position)
	if err != nil {
		return fmt.Errorf("sqlite: marshal journal position: %w", err)
	}

	const query = `
		INSERT INTO journal (id, market, position_id, action, quote, detail, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		e.ID, e.Market, e.PositionID, string(e.Action),
		quoteJSON, detailJSON, string(posJSON), e.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("sqlite: append journal %s: %w", e.Action, err)
	}
	return nil
}

// List returns a market's entries newest first.
func (s *Store) List(ctx context.Context, market string, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query := `SELECT id, market, position_id, action, quote, detail, position, created_at
		FROM journal WHERE market = ?`
	args := []any{market}

	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, opts.Until.UTC())
	}
	query += " ORDER BY seq DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list journal: %w", err)
	}
	defer rows.Close()
	return scanJournal(rows)
}

// ListByPosition returns every entry recorded for positionID, oldest first.
func (s *Store) ListByPosition(ctx context.Context, positionID string) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market, position_id, action, quote, detail, position, created_at
		 FROM journal WHERE position_id = ? ORDER BY seq ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list journal for %s: %w", positionID, err)
	}
	defer rows.Close()
	return scanJournal(rows)
}

func scanJournal(rows *sql.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e               domain.JournalEntry
			action, posJSON string
			quote, detail   sql.NullString
			createdAt       time.Time
		)
		if err := rows.Scan(&e.ID, &e.Market, &e.PositionID, &action,
			&quote, &detail, &posJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan journal entry: %w", err)
		}
		e.Action = domain.JournalAction(action)
		e.CreatedAt = createdAt.UTC()

		if quote.Valid {
			e.Quote = &domain.Quote{}
			if err := json.Unmarshal([]byte(quote.String), e.Quote); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal journal quote: %w", err)
			}
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal journal detail: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(posJSON), &e.Position); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal journal position: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: journal rows: %w", err)
	}
	return entries, nil
}

var (
	_ domain.PositionStore = (*Store)(nil)
	_ domain.JournalStore  = (*Store)(nil)
)
