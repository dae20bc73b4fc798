package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// PositionStore implements domain.PositionStore using one row per market in
// hedge_positions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// NUMERIC columns travel as text so no precision is lost to float64.
const positionSelectCols = `id, yes_shares::text, no_shares::text,
	total_invested::text, total_withdrawn::text, entry_prob::text,
	avg_cost_yes::text, avg_cost_no::text, version, opened_at, updated_at`

// Load returns the stored position for market, or the empty position.
func (s *PositionStore) Load(ctx context.Context, market string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM hedge_positions WHERE market = $1`, market)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EmptyPosition(), nil
		}
		return domain.Position{}, fmt.Errorf("postgres: load position %s: %w", market, err)
	}
	return p, nil
}

// Save upserts the position row inside a transaction.
func (s *PositionStore) Save(ctx context.Context, market string, p domain.Position) error {
	const query = `
		INSERT INTO hedge_positions (
			market, id, yes_shares, no_shares, total_invested, total_withdrawn,
			entry_prob, avg_cost_yes, avg_cost_no, version, opened_at, updated_at
		) VALUES (
			$1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric,
			$7::numeric, $8::numeric, $9::numeric, $10, $11, $12
		)
		ON CONFLICT (market) DO UPDATE SET
			id              = EXCLUDED.id,
			yes_shares      = EXCLUDED.yes_shares,
			no_shares       = EXCLUDED.no_shares,
			total_invested  = EXCLUDED.total_invested,
			total_withdrawn = EXCLUDED.total_withdrawn,
			entry_prob      = EXCLUDED.entry_prob,
			avg_cost_yes    = EXCLUDED.avg_cost_yes,
			avg_cost_no     = EXCLUDED.avg_cost_no,
			version         = EXCLUDED.version,
			opened_at       = EXCLUDED.opened_at,
			updated_at      = EXCLUDED.updated_at`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			market, p.ID,
			p.YesShares.String(), p.NoShares.String(),
			p.TotalInvested.String(), p.TotalWithdrawn.String(),
			p.EntryProb.String(), p.AvgCostYes.String(), p.AvgCostNo.String(),
			p.Version, p.OpenedAt, p.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", market, err)
	}
	return nil
}

// Close is a no-op; the pool is owned by Client.
func (s *PositionStore) Close() error { return nil }

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p         domain.Position
		nums      [7]string
		openedAt  *time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&p.ID, &nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5], &nums[6],
		&p.Version, &openedAt, &updatedAt,
	); err != nil {
		return domain.Position{}, err
	}

	targets := []*decimal.Decimal{
		&p.YesShares, &p.NoShares, &p.TotalInvested, &p.TotalWithdrawn,
		&p.EntryProb, &p.AvgCostYes, &p.AvgCostNo,
	}
	for i, dst := range targets {
		v, err := decimal.NewFromString(nums[i])
		if err != nil {
			return domain.Position{}, fmt.Errorf("parse numeric column %d: %w", i, err)
		}
		*dst = v
	}
	p.OpenedAt = openedAt
	p.UpdatedAt = updatedAt.UTC()
	return p, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
