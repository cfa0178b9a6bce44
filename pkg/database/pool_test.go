package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff_ExponentialWithJitter(t *testing.T) {
	// Base durations double per attempt (1s, 2s, 4s) with ±25% jitter.
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		lo := time.Duration(float64(base) * (1 - retryJitterFraction))
		hi := time.Duration(float64(base) * (1 + retryJitterFraction))

		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	}
}

func TestRetryBackoff_IncreasingDurations(t *testing.T) {
	// Averaged over many samples the jitter washes out and the trend shows.
	var sums [3]time.Duration
	const n = 100
	for attempt := 0; attempt < 3; attempt++ {
		for i := 0; i < n; i++ {
			sums[attempt] += retryBackoff(attempt)
		}
	}
	assert.Less(t, sums[0], sums[1])
	assert.Less(t, sums[1], sums[2])
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		msg       string
		transient bool
	}{
		{"dial tcp 127.0.0.1:5432: connection refused", true},
		{"connection reset by peer", true},
		{"broken pipe", true},
		{"i/o timeout", true},
		{"EOF", true},
		{"could not connect to server", true},
		{"syntax error at or near", false},
		{"duplicate key value violates unique constraint", false},
		{"relation does not exist", false},
	}

	assert.False(t, isConnectionError(nil))
	for _, tt := range tests {
		assert.Equal(t, tt.transient, isConnectionError(errStr(tt.msg)), "%q", tt.msg)
	}
}

type errStr string

func (e errStr) Error() string { return string(e) }
