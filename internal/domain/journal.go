package domain

import "time"

// JournalAction names the mutation a journal entry records.
type JournalAction string

const (
	JournalEnter JournalAction = "enter"
	JournalHedge JournalAction = "hedge"
	JournalExit  JournalAction = "exit"
	JournalReset JournalAction = "reset"
)

// JournalEntry is one append-only record of a position mutation, carrying
// the quote it was executed at, the trade figures, and the resulting
// position.
type JournalEntry struct {
	ID         string         `json:"id"`
	Market     string         `json:"market"`
	PositionID string         `json:"position_id,omitempty"`
	Action     JournalAction  `json:"action"`
	Quote      *Quote         `json:"quote,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Position   Position       `json:"position"`
	CreatedAt  time.Time      `json:"created_at"`
}
