package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runbookops/runbookd/core"
)

// RetryConfig configures retry behavior for transient source failures.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig provides the registry's standard retry policy:
// backoff starting at 100ms, doubling, capped at 5s.
func DefaultRetryConfig(maxAttempts int) *RetryConfig {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryConfig{
		MaxAttempts:   maxAttempts,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Retry executes fn up to MaxAttempts times. Only transient errors are
// retried; permanent, validation, and not-found errors surface
// immediately. Circuit rejections are not retried either: the circuit
// will not close between attempts, so retrying only burns budget.
func Retry(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig(3)
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !core.IsTransient(err) || errors.Is(err, core.ErrCircuitOpen) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		// A throttled source names its own backoff; honor it over ours.
		wait := delay
		if hint, ok := core.RetryAfterHint(err); ok {
			wait = hint
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}
