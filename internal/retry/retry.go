// Package retry runs fallible network operations with a bounded number of
// attempts.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
)

// DefaultMaxAttempts is used when an Executor has no explicit limit.
const DefaultMaxAttempts = 3

// BackoffFunc returns the delay before the attempt following attempt.
type BackoffFunc func(attempt int) time.Duration

// Executor retries an operation up to MaxAttempts times.
type Executor struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Logger      *slog.Logger
}

// New creates an Executor with exponential backoff.
func New(maxAttempts int, logger *slog.Logger) *Executor {
	return &Executor{
		MaxAttempts: maxAttempts,
		Backoff:     ExponentialBackoff,
		Logger:      logger,
	}
}

// Do runs fn until it succeeds, returns a permanent error, or the attempt
// limit is reached. The last error is returned as produced by fn.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := e.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", "op", name, "attempt", attempt)
			}
			return nil
		}

		logger.Warn("operation attempt failed", "op", name, "attempt", attempt, "max_attempts", maxAttempts, "error", lastErr)

		if fetcherr.IsPermanent(lastErr) {
			logger.Debug("not retrying permanent error", "op", name)
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoff(attempt)
		logger.Debug("retrying", "op", name, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return lastErr
		}
	}

	return lastErr
}

// ExponentialBackoff doubles a one second base delay each attempt and adds
// random jitter of up to half the delay.
func ExponentialBackoff(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter) + 1))
	return exponentialDelay + jitter
}

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration { return 0 }
