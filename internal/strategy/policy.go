package strategy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

var (
	defaultTakeProfitProb = decimal.RequireFromString("0.85")
	defaultStopLossProb   = decimal.RequireFromString("0.78")
	defaultHedgeFraction  = decimal.NewFromInt(1)
)

// ThresholdPolicy is the immutable rule set the engine evaluates a position
// against.
type ThresholdPolicy struct {
	// TakeProfitProb is the probability at or above which a hedge is
	// recommended.
	TakeProfitProb decimal.Decimal
	// StopLossProb is the probability at or below which an exit is
	// recommended.
	StopLossProb decimal.Decimal
	// HedgeFraction is the share of held YES sold on a hedge, in (0,1].
	HedgeFraction decimal.Decimal
}

// DefaultPolicy returns take-profit 0.85, stop-loss 0.78, hedge fraction 1.
func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		TakeProfitProb: defaultTakeProfitProb,
		StopLossProb:   defaultStopLossProb,
		HedgeFraction:  defaultHedgeFraction,
	}
}

// PolicyFromFloats builds a ThresholdPolicy from configuration values.
func PolicyFromFloats(takeProfit, stopLoss, hedgeFraction float64) ThresholdPolicy {
	return ThresholdPolicy{
		TakeProfitProb: decimal.NewFromFloat(takeProfit),
		StopLossProb:   decimal.NewFromFloat(stopLoss),
		HedgeFraction:  decimal.NewFromFloat(hedgeFraction),
	}
}

// Validate returns an error describing every out-of-range field.
func (p ThresholdPolicy) Validate() error {
	var errs []string
	if !domain.InUnitInterval(p.TakeProfitProb) {
		errs = append(errs, fmt.Sprintf("take_profit_prob must be in [0,1], got %s", p.TakeProfitProb))
	}
	if !domain.InUnitInterval(p.StopLossProb) {
		errs = append(errs, fmt.Sprintf("stop_loss_prob must be in [0,1], got %s", p.StopLossProb))
	}
	if p.StopLossProb.GreaterThanOrEqual(p.TakeProfitProb) {
		errs = append(errs, fmt.Sprintf("stop_loss_prob (%s) must be below take_profit_prob (%s)", p.StopLossProb, p.TakeProfitProb))
	}
	if !p.HedgeFraction.IsPositive() || p.HedgeFraction.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("hedge_fraction must be in (0,1], got %s", p.HedgeFraction))
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy: invalid threshold policy: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FullFlip reports whether a hedge under this policy sells every YES share,
// leaving a one-sided NO position instead of a dual-sided hedge.
func (p ThresholdPolicy) FullFlip() bool {
	return p.HedgeFraction.Equal(decimal.NewFromInt(1))
}
