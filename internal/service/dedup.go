package service

import (
	"context"
	"sync"
	"time"
)

// Dedup rejects a mutating request whose request ID was already claimed
// within the TTL window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // requestID -> claim time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a request ID as a duplicate for ttl
// after it was first claimed.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records requestID and returns true, or returns false when the ID
// was already claimed inside the window.
func (d *Dedup) Claim(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if claimed, ok := d.seen[requestID]; ok && now.Sub(claimed) < d.ttl {
		return false
	}
	d.seen[requestID] = now
	return true
}

// Forget releases requestID so a failed request can be retried with the
// same ID.
func (d *Dedup) Forget(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, requestID)
}

// Cleanup removes entries that have expired beyond the TTL.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Run calls Cleanup every interval until ctx is cancelled.
func (d *Dedup) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Cleanup()
		}
	}
}

type requestIDKey struct{}

// WithRequestID attaches a caller-supplied idempotency key to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the idempotency key attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
