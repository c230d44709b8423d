package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache[string](time.Minute).WithClock(func() time.Time { return now })

	c.Set("a", "x")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry expires exactly at its TTL")
	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, 0, c.Len())
}

func TestCacheDisabledTTL(t *testing.T) {
	c := NewCache[int](0)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCacheInvalidateAndFlush(t *testing.T) {
	c := NewCache[int](time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Flush()
	assert.Equal(t, 0, c.Len())
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	assert.True(t, rl.TryAcquire())
	assert.True(t, rl.TryAcquire())
	assert.False(t, rl.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	require.True(t, rl.TryAcquire())
	require.NoError(t, rl.Wait(context.Background()))
}
