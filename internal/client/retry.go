package client

import (
	"math/rand"
	"time"
)

// RetryConfig holds connection-level retry settings shared by the client
// implementations. This is separate from the orchestrator's turn-level
// retry: here we retry failed request setup, never a stream that already
// delivered events.
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// CalculateBackoff calculates exponential backoff with jitter to avoid
// thundering-herd retries against a struggling endpoint. Non-positive
// baseDelay or maxDelay fall back to the defaults, so a partially filled
// RetryConfig can never produce a zero or negative delay.
func CalculateBackoff(baseDelay time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	def := DefaultRetryConfig()
	if baseDelay <= 0 {
		baseDelay = def.RetryDelay
	}
	if maxDelay <= 0 {
		maxDelay = def.MaxDelay
	}

	delay := baseDelay * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	if quarter := int64(delay / 4); quarter > 0 {
		delay += time.Duration(rand.Int63n(quarter))
	}
	return delay
}
