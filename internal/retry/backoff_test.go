package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps replaces the package sleep func and captures requested delays.
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	delays := recordSleeps(t)

	calls := 0
	result := Do(context.Background(), RateLimitConfig(), func() error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestDoRetriesRateLimitWithDoublingDelays(t *testing.T) {
	delays := recordSleeps(t)

	calls := 0
	result := Do(context.Background(), RateLimitConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("model is over capacity, please retry")
		}
		return nil
	})

	require.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	require.Len(t, *delays, 2)
	assert.GreaterOrEqual(t, (*delays)[0], 2*time.Second)
	assert.GreaterOrEqual(t, (*delays)[1], 4*time.Second)
}

func TestDoExhaustsAttemptsOnPersistentRateLimit(t *testing.T) {
	recordSleeps(t)

	calls := 0
	rateErr := errors.New("HTTP 429 Too Many Requests")
	result := Do(context.Background(), RateLimitConfig(), func() error {
		calls++
		return rateErr
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, rateErr, result.LastError)
}

func TestDoFailsImmediatelyOnNonRateLimitError(t *testing.T) {
	delays := recordSleeps(t)

	calls := 0
	result := Do(context.Background(), RateLimitConfig(), func() error {
		calls++
		return errors.New("invalid api key")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

type statusErr int

func (s statusErr) Error() string   { return "request rejected" }
func (s statusErr) StatusCode() int { return int(s) }

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"status 429", statusErr(429), true},
		{"status 500 neutral message", statusErr(500), false},
		{"rate keyword", errors.New("rate limit exceeded"), true},
		{"capacity keyword", errors.New("The model is over capacity"), true},
		{"429 in message", errors.New("upstream returned 429"), true},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRateLimitError(tt.err))
		})
	}
}
