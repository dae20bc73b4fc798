package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:position:m", lockKey("position:m"))
	assert.Equal(t, "price:123", priceKey("123"))
	assert.Equal(t, "ratelimit:1.2.3.4", rateLimitKey("1.2.3.4"))
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern(domain.PositionsChannel))
	assert.True(t, hasPattern("positions.*"))
	assert.True(t, hasPattern("pos?tions"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "ZCARD")
}

func TestParsePriceHash(t *testing.T) {
	ts := time.Unix(0, 1767225600000000000)

	price, got, err := parsePriceHash("yes", map[string]string{
		"price": "0.86",
		"ts":    "1767225600000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.86, price)
	assert.True(t, got.Equal(ts))

	_, _, err = parsePriceHash("yes", map[string]string{})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, _, err = parsePriceHash("yes", map[string]string{"price": "0.5"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, _, err = parsePriceHash("yes", map[string]string{"price": "abc", "ts": "1"})
	assert.Error(t, err)
}
