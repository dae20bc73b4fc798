package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// Unrealized, locked and final PnL are all measured against
// total_invested, which accumulates over every entry until Reset. Proceeds
// of earlier exits are not netted off; RealizedPnL accounts for them.

// MarkValue values both legs at the given quotes.
func MarkValue(p domain.Position, yesPrice, noPrice decimal.Decimal) decimal.Decimal {
	return p.YesShares.Mul(yesPrice).Add(p.NoShares.Mul(noPrice)).Round(domain.Scale)
}

// UnrealizedPnL is the mark-to-market gain or loss.
func UnrealizedPnL(p domain.Position, yesPrice, noPrice decimal.Decimal) decimal.Decimal {
	return MarkValue(p, yesPrice, noPrice).Sub(p.TotalInvested)
}

// PayoffIfYes is the cash received if the market resolves YES.
func PayoffIfYes(p domain.Position) decimal.Decimal { return p.YesShares }

// PayoffIfNo is the cash received if the market resolves NO.
func PayoffIfNo(p domain.Position) decimal.Decimal { return p.NoShares }

// WorstCasePayoff is the smaller of the two resolution payoffs.
func WorstCasePayoff(p domain.Position) decimal.Decimal {
	return decimal.Min(PayoffIfYes(p), PayoffIfNo(p))
}

// LockedPnL is the outcome-independent profit or loss: the worst-case
// payoff minus total_invested.
func LockedPnL(p domain.Position) decimal.Decimal {
	return WorstCasePayoff(p).Sub(p.TotalInvested)
}

// RealizedPnL is the lifetime result once every share has been sold.
func RealizedPnL(p domain.Position) decimal.Decimal {
	return p.TotalWithdrawn.Sub(p.TotalInvested)
}

// weightedAvg blends an existing average cost with a new lot and keeps the
// result a valid price.
func weightedAvg(oldAvg, oldShares, lotCost, lotShares decimal.Decimal) decimal.Decimal {
	total := oldShares.Add(lotShares)
	if !total.IsPositive() {
		return oldAvg
	}
	avg := oldAvg.Mul(oldShares).Add(lotCost).DivRound(total, domain.Scale)
	return decimal.Min(avg, decimal.NewFromInt(1))
}
