package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLimiter(t *testing.T) (*AttemptLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := NewAttemptLimiter(client, 5, 15*time.Minute)
	return limiter, mr
}

func TestAttemptLimiter_BelowLimit(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, limiter.RecordFailure(ctx, "pat@carebridge.test", "10.0.0.1"))
	}

	locked, err := limiter.TooManyAttempts(ctx, "pat@carebridge.test", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, locked, "four failures stay under a limit of five")
}

func TestAttemptLimiter_AtLimit(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.RecordFailure(ctx, "pat@carebridge.test", "10.0.0.1"))
	}

	locked, err := limiter.TooManyAttempts(ctx, "pat@carebridge.test", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestAttemptLimiter_NoFailuresRecorded(t *testing.T) {
	limiter, _ := setupTestLimiter(t)

	locked, err := limiter.TooManyAttempts(context.Background(), "nobody@carebridge.test", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestAttemptLimiter_EmailCaseInsensitive(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.RecordFailure(ctx, "Pat@CareBridge.Test", "10.0.0.1"))
	}

	locked, err := limiter.TooManyAttempts(ctx, "pat@carebridge.test", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, locked, "casing of the email must not split the counter")
}

func TestAttemptLimiter_SeparateIPsSeparateCounters(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.RecordFailure(ctx, "pat@carebridge.test", "10.0.0.1"))
	}

	locked, err := limiter.TooManyAttempts(ctx, "pat@carebridge.test", "192.168.1.9")
	require.NoError(t, err)
	assert.False(t, locked, "a different client IP is a different counter")
}

func TestAttemptLimiter_WindowExpiry(t *testing.T) {
	limiter, mr := setupTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.RecordFailure(ctx, "pat@carebridge.test", "10.0.0.1"))
	}

	mr.FastForward(16 * time.Minute)

	locked, err := limiter.TooManyAttempts(ctx, "pat@carebridge.test", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, locked, "the window is rolling; old failures age out")
}

func TestAttemptLimiter_Reset(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.RecordFailure(ctx, "pat@carebridge.test", "10.0.0.1"))
	}
	require.NoError(t, limiter.Reset(ctx, "pat@carebridge.test", "10.0.0.1"))

	locked, err := limiter.TooManyAttempts(ctx, "pat@carebridge.test", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, locked, "a successful login clears the counter")
}
