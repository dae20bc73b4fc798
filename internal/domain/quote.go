package domain

import (
	"github.com/shopspring/decimal"
)

// Quote is a fully resolved market observation: the probability the market
// assigns to YES and the prices at which each leg can be traded. The two
// leg prices are quoted independently and need not sum to 1.
type Quote struct {
	CurrentProb decimal.Decimal `json:"current_prob"`
	YesPrice    decimal.Decimal `json:"yes_price"`
	NoPrice     decimal.Decimal `json:"no_price"`
}

// QuoteRequest is a caller-supplied quote in which the leg prices are
// optional. Missing legs are derived from CurrentProb:
//
//	yes_price := current_prob
//	no_price  := 1 - current_prob
type QuoteRequest struct {
	CurrentProb decimal.Decimal  `json:"current_prob"`
	YesPrice    *decimal.Decimal `json:"yes_price,omitempty"`
	NoPrice     *decimal.Decimal `json:"no_price,omitempty"`
}

// Resolve fills in omitted leg prices and validates that every value lies in
// [0,1].
func (r QuoteRequest) Resolve() (Quote, error) {
	q := Quote{
		CurrentProb: r.CurrentProb,
		YesPrice:    r.CurrentProb,
		NoPrice:     one.Sub(r.CurrentProb),
	}
	if r.YesPrice != nil {
		q.YesPrice = *r.YesPrice
	}
	if r.NoPrice != nil {
		q.NoPrice = *r.NoPrice
	}
	if err := q.Validate(); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// Validate checks that all three values are probabilities.
func (q Quote) Validate() error {
	if !InUnitInterval(q.CurrentProb) {
		return InvalidInput("current_prob must be in [0,1], got %s", q.CurrentProb)
	}
	if !InUnitInterval(q.YesPrice) {
		return InvalidInput("yes_price must be in [0,1], got %s", q.YesPrice)
	}
	if !InUnitInterval(q.NoPrice) {
		return InvalidInput("no_price must be in [0,1], got %s", q.NoPrice)
	}
	return nil
}

// InUnitInterval reports whether 0 <= d <= 1.
func InUnitInterval(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(one)
}
