package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "login_attempts:"

// AttemptLimiter implements repository.AttemptLimiter using Redis. Counters
// are keyed by lowercased email plus client IP with a rolling window: the
// first failure in a window sets the expiry, later failures ride it out.
type AttemptLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewAttemptLimiter creates a Redis-backed login attempt limiter.
func NewAttemptLimiter(client *redis.Client, limit int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// TooManyAttempts reports whether the email/IP pair has reached the failure
// limit within the current window.
func (l *AttemptLimiter) TooManyAttempts(ctx context.Context, email, clientIP string) (bool, error) {
	count, err := l.client.Get(ctx, l.key(email, clientIP)).Int()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redis get login attempts: %w", err)
	}
	return count >= l.limit, nil
}

// RecordFailure increments the failure counter, starting the window on the
// first failure.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, email, clientIP string) error {
	key := l.key(email, clientIP)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis incr login attempts: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("redis expire login attempts: %w", err)
		}
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *AttemptLimiter) Reset(ctx context.Context, email, clientIP string) error {
	if err := l.client.Del(ctx, l.key(email, clientIP)).Err(); err != nil {
		return fmt.Errorf("redis del login attempts: %w", err)
	}
	return nil
}

func (l *AttemptLimiter) key(email, clientIP string) string {
	return keyPrefix + strings.ToLower(email) + ":" + clientIP
}
