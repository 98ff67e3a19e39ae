package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/inferguard/internal/config"
)

// fixedRand always returns the same coin value.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Backend:          "memory",
		DefaultTTLDays:   7,
		SweepProbability: 0.1,
		KeyPrefixLength:  100,
		RedisKeyPrefix:   "test:cache:",
	}
}

func newTestMemory(t *testing.T, coin float64) (*Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	return NewMemory(testCacheConfig(), clock, WithRandomSource(fixedRand(coin))), clock
}

func TestMemory_RoundTrip(t *testing.T) {
	c, _ := newTestMemory(t, 0.99)
	ctx := context.Background()

	c.Put(ctx, "k", "v", 1)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestMemory_MissOnUnknownKey(t *testing.T) {
	c, _ := newTestMemory(t, 0.99)

	_, ok := c.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestMemory_ExpiresAfterTTL(t *testing.T) {
	c, clock := newTestMemory(t, 0.99)
	ctx := context.Background()

	c.Put(ctx, "k", "v", 1)

	clock.Advance(24 * time.Hour)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok, "entry is usable exactly at expiresAt")

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry must not be returned after expiry")
}

func TestMemory_DefaultTTLIsSevenDays(t *testing.T) {
	c, clock := newTestMemory(t, 0.99)
	ctx := context.Background()

	c.Put(ctx, "k", "v", 0)

	clock.Advance(7*24*time.Hour - time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_PutOverwrites(t *testing.T) {
	c, clock := newTestMemory(t, 0.99)
	ctx := context.Background()

	c.Put(ctx, "k", "old", 1)
	clock.Advance(20 * time.Hour)
	c.Put(ctx, "k", "new", 1)
	clock.Advance(20 * time.Hour)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok, "overwrite refreshes the expiry")
	assert.Equal(t, "new", got)
}

func TestMemory_ExpiredEntryLingersWithoutSweep(t *testing.T) {
	c, clock := newTestMemory(t, 0.99) // coin never below 0.1
	ctx := context.Background()

	c.Put(ctx, "a", "1", 1)
	c.Put(ctx, "b", "2", 1)
	clock.Advance(48 * time.Hour)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len(), "lazy sweep did not fire")
}

func TestMemory_MissTriggersSweep(t *testing.T) {
	c, clock := newTestMemory(t, 0.05) // coin always below 0.1
	ctx := context.Background()

	c.Put(ctx, "old-1", "1", 1)
	c.Put(ctx, "old-2", "2", 1)
	c.Put(ctx, "fresh", "3", 30)
	clock.Advance(48 * time.Hour)

	_, ok := c.Get(ctx, "unrelated")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "expired entries swept on miss")

	got, ok := c.Get(ctx, "fresh")
	require.True(t, ok)
	assert.Equal(t, "3", got)
}

func TestMemory_HitNeverSweeps(t *testing.T) {
	c, clock := newTestMemory(t, 0.0)
	ctx := context.Background()

	c.Put(ctx, "old", "1", 1)
	c.Put(ctx, "fresh", "2", 30)
	clock.Advance(48 * time.Hour)

	_, ok := c.Get(ctx, "fresh")
	require.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestMemory_Sweep(t *testing.T) {
	c, clock := newTestMemory(t, 0.99)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Put(ctx, fmt.Sprintf("short-%d", i), "v", 1)
	}
	c.Put(ctx, "long", "v", 10)
	clock.Advance(3 * 24 * time.Hour)

	assert.Equal(t, 5, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Sweep())
}

func TestMemory_InvalidateScope(t *testing.T) {
	c, _ := newTestMemory(t, 0.99)
	ctx := context.Background()

	c.Put(ctx, ComputeKey("hello", "therapist-42", "en"), "a", 1)
	c.Put(ctx, ComputeKey("goodbye", "therapist-42", "zh"), "b", 1)
	c.Put(ctx, ComputeKey("hello", "therapist-7", "en"), "c", 1)

	n, err := c.InvalidateScope(ctx, "therapist-42")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(ctx, ComputeKey("hello", "therapist-7", "en"))
	assert.True(t, ok)
}

func TestMemory_InvalidateAll(t *testing.T) {
	c, _ := newTestMemory(t, 0.99)
	ctx := context.Background()

	c.Put(ctx, "a", "1", 1)
	c.Put(ctx, "b", "2", 1)

	require.NoError(t, c.InvalidateAll(ctx))
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_StartSweeper(t *testing.T) {
	c, clock := newTestMemory(t, 0.99)
	ctx := context.Background()

	c.Put(ctx, "a", "1", 1)
	stop := c.StartSweeper(time.Hour)
	defer stop()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(25 * time.Hour)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemory_StartSweeperDisabled(t *testing.T) {
	c, _ := newTestMemory(t, 0.99)

	stop := c.StartSweeper(0)
	assert.NotPanics(t, stop)
}

func TestMemory_ImplementsCache(t *testing.T) {
	var _ Cache = (*Memory)(nil)
	var _ Cache = (*Redis)(nil)
}
