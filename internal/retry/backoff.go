package retry

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxAttempts int           `json:"max_attempts"` // Total attempts including the first
	BaseDelay   time.Duration `json:"base_delay"`   // Delay before the first retry
	Multiplier  float64       `json:"multiplier"`   // Backoff multiplier per retry
}

// RateLimitConfig returns the retry configuration used for rate-limited
// external services: 3 attempts total, 2s base delay, jitter-free doubling.
func RateLimitConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
	}
}

// Result describes how a retried operation concluded.
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
}

// sleep is swapped out in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do executes op, retrying with exponential backoff only when the error is
// rate-limit-class (see IsRateLimitError). Any other error fails immediately.
func Do(ctx context.Context, config Config, op func() error) Result {
	start := time.Now()
	result := Result{}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		err := op()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			return result
		}
		result.LastError = err

		if !IsRateLimitError(err) || attempt == config.MaxAttempts-1 {
			result.TotalDuration = time.Since(start)
			return result
		}

		delay := delayFor(config, attempt)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxAttempts).
			Dur("delay", delay).
			Msg("Rate limited, backing off before retry")

		if err := sleep(ctx, delay); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// delayFor computes baseDelay * multiplier^attempt. No jitter: concurrent
// calls are already serialized by the callers, so thundering herd does not
// apply and deterministic delays keep the behavior testable.
func delayFor(config Config, attempt int) time.Duration {
	return time.Duration(float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt)))
}

// StatusCoder is implemented by errors carrying an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// IsRateLimitError reports whether err looks like an upstream rate-limit or
// capacity rejection. Matches HTTP 429 plus the descriptive messages the
// draft service and platform APIs return when throttling.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	if sc, ok := err.(StatusCoder); ok && sc.StatusCode() == 429 {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate", "capacity"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
