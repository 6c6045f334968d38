package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/canvass-hq/canvass/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(maxCalls int) (*Limiter, *time.Time) {
	now := time.Now()
	memoryStore := store.NewMemory()
	memoryStore.Now = func() time.Time { return now }

	limiter := New(memoryStore, 24*time.Hour, maxCalls)
	limiter.Now = memoryStore.Now

	return limiter, &now
}

func advance(now *time.Time, d time.Duration) {
	*now = now.Add(d)
}

func TestLimiterAllowsUpToMax(t *testing.T) {
	limiter, _ := newTestLimiter(10)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		decision, err := limiter.Allow(ctx, "hash")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.Equal(t, i, decision.Count)
	}

	decision, err := limiter.Allow(ctx, "hash")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiterDenialDoesNotExtendWindow(t *testing.T) {
	limiter, now := newTestLimiter(1)
	ctx := context.Background()

	decision, err := limiter.Allow(ctx, "hash")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	advance(now, 23*time.Hour)

	decision, err = limiter.Allow(ctx, "hash")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.LessOrEqual(t, decision.RetryAfter, time.Hour)

	// A second denial one hour later must not have pushed the window out.
	advance(now, time.Hour)

	decision, err = limiter.Allow(ctx, "hash")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestLimiterWindowResets(t *testing.T) {
	limiter, now := newTestLimiter(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, "hash")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	advance(now, 25*time.Hour)

	decision, err := limiter.Allow(ctx, "hash")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 1, decision.Count)
}

func TestLimiterIndependentPhones(t *testing.T) {
	limiter, _ := newTestLimiter(1)
	ctx := context.Background()

	decision, err := limiter.Allow(ctx, "first")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = limiter.Allow(ctx, "second")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = limiter.Allow(ctx, "first")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}
