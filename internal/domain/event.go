package domain

import "time"

// PositionsChannel is the pub/sub channel position events are published on.
const PositionsChannel = "positions"

// Event types published on PositionsChannel.
const (
	EventPositionOpened = "position_opened"
	EventPositionHedged = "position_hedged"
	EventPositionClosed = "position_closed"
	EventPositionReset  = "position_reset"
	EventEvaluated      = "position_evaluated"
)

// PositionEvent is the JSON envelope published for every mutation and for
// monitor evaluations.
type PositionEvent struct {
	Event    string         `json:"event"`
	Market   string         `json:"market"`
	Position PositionView   `json:"position"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}
