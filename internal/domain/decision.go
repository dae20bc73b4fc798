package domain

// Decision is the recommendation produced by evaluating a position against
// the threshold policy.
type Decision string

const (
	DecisionWait       Decision = "WAIT"
	DecisionHold       Decision = "HOLD"
	DecisionTakeProfit Decision = "TAKE_PROFIT"
	DecisionStopLoss   Decision = "STOP_LOSS"
)
