package core

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Input errors
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")

	// Source errors
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceError       = errors.New("source error")
	ErrRateLimited       = errors.New("source rate limited")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	// Cache errors
	ErrCacheDegraded = errors.New("cache degraded")
	ErrCacheMiss     = errors.New("cache miss")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNotInitialized    = errors.New("not initialized")
	ErrShuttingDown      = errors.New("shutting down")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrOverloaded         = errors.New("too many concurrent requests")
)

// RateLimitedError is a throttle response carrying the source's
// requested backoff. Retry loops honor RetryAfter over their own
// schedule.
type RateLimitedError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("source %s throttled (retry after %s): %v", e.Source, e.RetryAfter, ErrRateLimited)
}

// Unwrap ties the error into the ErrRateLimited classification.
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterHint extracts a source-requested backoff from an error
// chain, if any throttle response carried one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// EngineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type EngineError struct {
	Op      string // Operation that failed (e.g., "registry.AggregateSearch")
	Kind    string // Error kind (e.g., "source", "cache", "config")
	Code    string // Stable machine-readable code surfaced to callers
	Source  string // Optional source name involved
	Message string // Human-readable message, free of credentials and paths
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error.
func (e *EngineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Source != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Source, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, kind string, err error) *EngineError {
	return &EngineError{Op: op, Kind: kind, Err: err}
}

// SourceErrorf builds a permanent source error with a stable code.
func SourceErrorf(source, code, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Op:      "adapter.call",
		Kind:    "source",
		Code:    code,
		Source:  source,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrSourceError,
	}
}

// IsTransient checks if an error is a transient source failure worth
// retrying. Circuit rejections are transient for aggregation purposes
// but the retry loop treats them separately.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsPermanent checks if an error is a permanent source failure
// (auth, schema, forbidden). Never retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrSourceError)
}

// IsNotFound checks if an error represents a "not found" condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is caused by malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConfigurationError checks if an error is configuration-related.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// ErrorCode maps an error to the stable code surfaced in responses.
func ErrorCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Code != "" {
		return ee.Code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrCircuitOpen):
		return "CIRCUIT_OPEN"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrTimeout):
		return "SOURCE_UNAVAILABLE"
	case errors.Is(err, ErrSourceError):
		return "SOURCE_ERROR"
	case errors.Is(err, ErrCacheDegraded):
		return "CACHE_DEGRADED"
	case errors.Is(err, ErrOverloaded):
		return "OVERLOADED"
	default:
		return "INTERNAL_ERROR"
	}
}
