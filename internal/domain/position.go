package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for shares and cash. It
// matches the 1e6 fixed-point unit the CLOB uses for order sizes.
const Scale int32 = 6

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// Position is the single YES/NO share pair the engine manages. Cash flows
// are tracked as two independent running totals so PnL can always be
// recomputed from history.
type Position struct {
	ID             string          `json:"id,omitempty"`
	YesShares      decimal.Decimal `json:"yes_shares"`
	NoShares       decimal.Decimal `json:"no_shares"`
	TotalInvested  decimal.Decimal `json:"total_invested"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	EntryProb      decimal.Decimal `json:"entry_prob"`
	AvgCostYes     decimal.Decimal `json:"avg_cost_yes"`
	AvgCostNo      decimal.Decimal `json:"avg_cost_no"`
	Version        int64           `json:"version"`
	OpenedAt       *time.Time      `json:"opened_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EmptyPosition returns the zero-holdings state used at initialization and
// after a reset.
func EmptyPosition() Position {
	return Position{
		YesShares:      zero,
		NoShares:       zero,
		TotalInvested:  zero,
		TotalWithdrawn: zero,
		EntryProb:      zero,
		AvgCostYes:     zero,
		AvgCostNo:      zero,
	}
}

// HasPosition reports whether either leg holds shares.
func (p Position) HasPosition() bool {
	return p.YesShares.IsPositive() || p.NoShares.IsPositive()
}

// IsHedged reports whether both legs hold shares.
func (p Position) IsHedged() bool {
	return p.YesShares.IsPositive() && p.NoShares.IsPositive()
}

// Validate checks the invariants that must hold after every mutation.
func (p Position) Validate() error {
	nonNeg := []struct {
		name string
		v    decimal.Decimal
	}{
		{"yes_shares", p.YesShares},
		{"no_shares", p.NoShares},
		{"total_invested", p.TotalInvested},
		{"total_withdrawn", p.TotalWithdrawn},
	}
	for _, f := range nonNeg {
		if f.v.IsNegative() {
			return fmt.Errorf("%s must be >= 0, got %s", f.name, f.v)
		}
	}

	unit := []struct {
		name string
		v    decimal.Decimal
	}{
		{"entry_prob", p.EntryProb},
		{"avg_cost_yes", p.AvgCostYes},
		{"avg_cost_no", p.AvgCostNo},
	}
	for _, f := range unit {
		if f.v.IsNegative() || f.v.GreaterThan(one) {
			return fmt.Errorf("%s must be in [0,1], got %s", f.name, f.v)
		}
	}
	return nil
}

// PositionView is the externally visible shape of a Position, with the
// derived flags materialized.
type PositionView struct {
	ID             string          `json:"id,omitempty"`
	YesShares      decimal.Decimal `json:"yes_shares"`
	NoShares       decimal.Decimal `json:"no_shares"`
	TotalInvested  decimal.Decimal `json:"total_invested"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	HasPosition    bool            `json:"has_position"`
	IsHedged       bool            `json:"is_hedged"`
	EntryProb      decimal.Decimal `json:"entry_prob"`
	AvgCostYes     decimal.Decimal `json:"avg_cost_yes"`
	AvgCostNo      decimal.Decimal `json:"avg_cost_no"`
	Version        int64           `json:"version"`
	OpenedAt       *time.Time      `json:"opened_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// View builds the PositionView for p.
func (p Position) View() PositionView {
	return PositionView{
		ID:             p.ID,
		YesShares:      p.YesShares,
		NoShares:       p.NoShares,
		TotalInvested:  p.TotalInvested,
		TotalWithdrawn: p.TotalWithdrawn,
		HasPosition:    p.HasPosition(),
		IsHedged:       p.IsHedged(),
		EntryProb:      p.EntryProb,
		AvgCostYes:     p.AvgCostYes,
		AvgCostNo:      p.AvgCostNo,
		Version:        p.Version,
		OpenedAt:       p.OpenedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
