package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketPerKey(t *testing.T) {
	l := NewTokenBucketLimiter(0.001, 1)

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
}

func TestWaitHonoursContext(t *testing.T) {
	l := NewTokenBucketLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "a"))
}

func TestUnlimited(t *testing.T) {
	l := NewTokenBucketLimiter(0, 1)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
}
