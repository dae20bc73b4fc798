package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.True(t, d.Claim("a"))
	assert.False(t, d.Claim("a"))
	assert.True(t, d.Claim("b"))

	d.Forget("a")
	assert.True(t, d.Claim("a"))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.Claim("b"), "expired ids may be claimed again")

	d.Cleanup()
	assert.Len(t, d.seen, 1)
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFrom(ctx))
	assert.Equal(t, ctx, WithRequestID(ctx, ""))
	assert.Equal(t, "r-1", RequestIDFrom(WithRequestID(ctx, "r-1")))
}
