package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyOpen      = errors.New("position already open")
	ErrNoPosition       = errors.New("no position")
	ErrNotTriggered     = errors.New("condition not triggered")
	ErrPersistence      = errors.New("persistence failure")
	ErrDuplicateRequest = errors.New("duplicate request")
)

// EngineError pairs one of the sentinel kinds above with a human-readable
// reason. errors.Is matches against the kind.
type EngineError struct {
	Kind   error
	Reason string
}

func (e *EngineError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *EngineError) Unwrap() error { return e.Kind }

// NewError builds an EngineError of the given kind.
func NewError(kind error, format string, args ...any) error {
	return &EngineError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// InvalidInput is shorthand for NewError(ErrInvalidInput, ...).
func InvalidInput(format string, args ...any) error {
	return NewError(ErrInvalidInput, format, args...)
}

// kindCodes maps sentinel errors to their machine-readable codes.
var kindCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrAlreadyOpen, "already_open"},
	{ErrNoPosition, "no_position"},
	{ErrNotTriggered, "not_triggered"},
	{ErrPersistence, "persistence"},
	{ErrDuplicateRequest, "duplicate_request"},
	{ErrLockHeld, "busy"},
	{ErrRateLimited, "rate_limited"},
	{ErrUnauthorized, "unauthorized"},
	{ErrNotFound, "not_found"},
}

// KindOf returns the machine-readable kind of err, or "internal" when err
// does not wrap a known sentinel.
func KindOf(err error) string {
	for _, k := range kindCodes {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

// ReasonOf returns the human-readable reason carried by err.
func ReasonOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Reason != "" {
		return ee.Reason
	}
	return err.Error()
}
