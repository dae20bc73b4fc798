// Package strategy implements the hedge decision engine: pure functions that
// take a position and a market quote and return a recommendation, or the
// exact trade to enter, hedge or exit together with the resulting position.
// Nothing in this package performs I/O or holds mutable state.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// Engine evaluates positions against a fixed ThresholdPolicy.
type Engine struct {
	policy ThresholdPolicy
}

// NewEngine validates policy and returns an Engine bound to it.
func NewEngine(policy ThresholdPolicy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: policy}, nil
}

// Policy returns the engine's threshold policy.
func (e *Engine) Policy() ThresholdPolicy { return e.policy }

// EnterResult describes an executed entry.
type EnterResult struct {
	SharesBought decimal.Decimal `json:"shares_bought"`
	Price        decimal.Decimal `json:"price"`
	Invested     decimal.Decimal `json:"invested"`
}

// Recommendation is the outcome of Evaluate. UnrealizedPnL is set only for
// the mark-to-market HOLD branch.
type Recommendation struct {
	Decision      domain.Decision  `json:"decision"`
	Reason        string           `json:"reason"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

// HedgeResult describes an executed take-profit hedge.
type HedgeResult struct {
	YesSold     decimal.Decimal `json:"yes_sold"`
	YesPrice    decimal.Decimal `json:"yes_price"`
	NoBought    decimal.Decimal `json:"no_bought"`
	NoPrice     decimal.Decimal `json:"no_price"`
	Proceeds    decimal.Decimal `json:"proceeds"`
	LockedPnL   decimal.Decimal `json:"locked_pnl"`
	PayoffIfYes decimal.Decimal `json:"payoff_if_yes"`
	PayoffIfNo  decimal.Decimal `json:"payoff_if_no"`
	// FullFlip is true when every YES share was sold. The position is then
	// one-sided NO rather than hedged, and LockedPnL reflects the YES
	// outcome paying nothing.
	FullFlip bool `json:"full_flip"`
}

// ExitResult describes an executed stop-loss exit.
type ExitResult struct {
	YesSold     decimal.Decimal `json:"yes_sold"`
	NoSold      decimal.Decimal `json:"no_sold"`
	YesProceeds decimal.Decimal `json:"yes_proceeds"`
	NoProceeds  decimal.Decimal `json:"no_proceeds"`
	Proceeds    decimal.Decimal `json:"proceeds"`
	FinalPnL    decimal.Decimal `json:"final_pnl"`
}

// Enter buys YES shares worth amount at yesPrice. Only one position may be
// open at a time.
func (e *Engine) Enter(pos domain.Position, amount, yesPrice decimal.Decimal) (domain.Position, EnterResult, error) {
	if !amount.IsPositive() {
		return pos, EnterResult{}, domain.InvalidInput("amount must be > 0, got %s", amount)
	}
	if !yesPrice.IsPositive() || yesPrice.GreaterThan(decimal.NewFromInt(1)) {
		return pos, EnterResult{}, domain.InvalidInput("yes_price must be in (0,1], got %s", yesPrice)
	}
	if pos.HasPosition() {
		return pos, EnterResult{}, domain.NewError(domain.ErrAlreadyOpen,
			"holding %s YES / %s NO; exit or reset first", pos.YesShares, pos.NoShares)
	}

	amount = amount.Round(domain.Scale)
	shares := amount.DivRound(yesPrice, domain.Scale)

	next := pos
	next.AvgCostYes = weightedAvg(pos.AvgCostYes, pos.YesShares, amount, shares)
	next.YesShares = pos.YesShares.Add(shares)
	next.TotalInvested = pos.TotalInvested.Add(amount)
	// Enter requires an empty position, so every entry is a first entry.
	next.EntryProb = yesPrice
	next.AvgCostNo = decimal.Zero

	return next, EnterResult{
		SharesBought: shares,
		Price:        yesPrice,
		Invested:     next.TotalInvested,
	}, nil
}

// Evaluate recommends an action for pos at quote q. It never changes pos.
func (e *Engine) Evaluate(pos domain.Position, q domain.Quote) (Recommendation, error) {
	if err := q.Validate(); err != nil {
		return Recommendation{}, err
	}

	switch {
	case !pos.HasPosition():
		return Recommendation{Decision: domain.DecisionWait, Reason: "no position open"}, nil
	case pos.IsHedged():
		return Recommendation{Decision: domain.DecisionHold, Reason: "already hedged, nothing to evaluate"}, nil
	case q.CurrentProb.GreaterThanOrEqual(e.policy.TakeProfitProb):
		return Recommendation{
			Decision: domain.DecisionTakeProfit,
			Reason:   fmt.Sprintf("probability %s >= %s", q.CurrentProb, e.policy.TakeProfitProb),
		}, nil
	case q.CurrentProb.LessThanOrEqual(e.policy.StopLossProb):
		return Recommendation{
			Decision: domain.DecisionStopLoss,
			Reason:   fmt.Sprintf("probability %s <= %s", q.CurrentProb, e.policy.StopLossProb),
		}, nil
	}

	pnl := UnrealizedPnL(pos, q.YesPrice, q.NoPrice)
	return Recommendation{
		Decision: domain.DecisionHold,
		Reason: fmt.Sprintf("probability %s between %s and %s",
			q.CurrentProb, e.policy.StopLossProb, e.policy.TakeProfitProb),
		UnrealizedPnL: &pnl,
	}, nil
}

// Hedge sells HedgeFraction of the YES leg and reinvests the proceeds in
// NO. The take-profit condition is re-checked against q rather than trusted
// from an earlier Evaluate.
func (e *Engine) Hedge(pos domain.Position, q domain.Quote) (domain.Position, HedgeResult, error) {
	if err := q.Validate(); err != nil {
		return pos, HedgeResult{}, err
	}
	if !pos.YesShares.IsPositive() {
		return pos, HedgeResult{}, domain.NewError(domain.ErrNoPosition, "no YES shares to hedge")
	}
	rec, err := e.Evaluate(pos, q)
	if err != nil {
		return pos, HedgeResult{}, err
	}
	if rec.Decision != domain.DecisionTakeProfit {
		return pos, HedgeResult{}, domain.NewError(domain.ErrNotTriggered,
			"take-profit not triggered: %s (%s)", rec.Decision, rec.Reason)
	}
	if !q.YesPrice.IsPositive() {
		return pos, HedgeResult{}, domain.InvalidInput("yes_price must be > 0 to hedge, got %s", q.YesPrice)
	}
	if !q.NoPrice.IsPositive() {
		return pos, HedgeResult{}, domain.InvalidInput("no_price must be > 0 to hedge, got %s", q.NoPrice)
	}

	yesSold := pos.YesShares.Mul(e.policy.HedgeFraction).Round(domain.Scale)
	proceeds := yesSold.Mul(q.YesPrice).Round(domain.Scale)
	noBought := proceeds.DivRound(q.NoPrice, domain.Scale)

	next := pos
	next.YesShares = pos.YesShares.Sub(yesSold)
	next.AvgCostNo = weightedAvg(pos.AvgCostNo, pos.NoShares, proceeds, noBought)
	next.NoShares = pos.NoShares.Add(noBought)

	return next, HedgeResult{
		YesSold:     yesSold,
		YesPrice:    q.YesPrice,
		NoBought:    noBought,
		NoPrice:     q.NoPrice,
		Proceeds:    proceeds,
		LockedPnL:   LockedPnL(next),
		PayoffIfYes: PayoffIfYes(next),
		PayoffIfNo:  PayoffIfNo(next),
		FullFlip:    next.YesShares.IsZero(),
	}, nil
}

// Exit liquidates both legs at q once the stop-loss condition holds.
func (e *Engine) Exit(pos domain.Position, q domain.Quote) (domain.Position, ExitResult, error) {
	if err := q.Validate(); err != nil {
		return pos, ExitResult{}, err
	}
	if !pos.HasPosition() {
		return pos, ExitResult{}, domain.NewError(domain.ErrNoPosition, "nothing to exit")
	}
	rec, err := e.Evaluate(pos, q)
	if err != nil {
		return pos, ExitResult{}, err
	}
	if rec.Decision != domain.DecisionStopLoss {
		return pos, ExitResult{}, domain.NewError(domain.ErrNotTriggered,
			"stop-loss not triggered: %s (%s)", rec.Decision, rec.Reason)
	}

	yesProceeds := pos.YesShares.Mul(q.YesPrice).Round(domain.Scale)
	noProceeds := pos.NoShares.Mul(q.NoPrice).Round(domain.Scale)
	proceeds := yesProceeds.Add(noProceeds)
	finalPnL := proceeds.Sub(pos.TotalInvested)

	next := pos
	next.YesShares = decimal.Zero
	next.NoShares = decimal.Zero
	next.TotalWithdrawn = pos.TotalWithdrawn.Add(proceeds)

	return next, ExitResult{
		YesSold:     pos.YesShares,
		NoSold:      pos.NoShares,
		YesProceeds: yesProceeds,
		NoProceeds:  noProceeds,
		Proceeds:    proceeds,
		FinalPnL:    finalPnL,
	}, nil
}

// Reset returns the empty position.
func (e *Engine) Reset() domain.Position {
	return domain.EmptyPosition()
}
