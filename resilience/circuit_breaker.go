// Package resilience protects adapter calls from failing sources.
// It provides a per-source circuit breaker and a retry helper with
// exponential backoff; the adapter registry composes the two.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runbookops/runbookd/core"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed allows all requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a limited probe budget for testing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker events.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation.
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string)                      {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// ErrorClassifier decides which errors count toward the failure
// threshold. Validation and not-found are caller errors, not evidence
// the source is failing.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts infrastructure errors only.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsValidation(err) || core.IsNotFound(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Timeouts, transport failures, permanent source errors all count.
	return true
}

// Fallback is invoked when the breaker rejects a call. Its return
// value is treated as a successful but degraded result.
type Fallback func(ctx context.Context) error

// Config holds configuration for one circuit breaker.
type Config struct {
	// Name identifies the breaker, normally the source name.
	Name string

	// FailureThreshold is the consecutive failure count that opens the
	// circuit from closed.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// HalfOpenProbes bounds concurrent probe calls while half-open.
	HalfOpenProbes int

	// SuccessThreshold is the consecutive successes in half-open
	// required to close.
	SuccessThreshold int

	// ErrorClassifier decides which errors count as failures.
	ErrorClassifier ErrorClassifier

	Logger  core.Logger
	Metrics MetricsCollector
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig(name string) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   1,
		SuccessThreshold: 2,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	if c.HalfOpenProbes < 1 {
		return fmt.Errorf("half-open probes must be at least 1, got %d", c.HalfOpenProbes)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be non-negative, got %v", c.Cooldown)
	}
	return nil
}

// CircuitBreaker short-circuits calls to a failing source.
//
// State machine:
//
//	closed    --failure x threshold-->  open
//	open      --cooldown elapsed---->   half-open (on next call)
//	half-open --success x threshold-->  closed
//	half-open --any failure-------->    open (fresh cooldown)
type CircuitBreaker struct {
	config *Config

	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	lastFailure      time.Time
	openedAt         time.Time
	halfOpenInFlight int
	halfOpenSuccess  int

	listeners []func(name string, from, to CircuitState)

	totalExecutions    uint64
	rejectedExecutions uint64
}

// NewCircuitBreaker creates a circuit breaker for one source.
func NewCircuitBreaker(config *Config) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultBreakerConfig("default")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}, nil
}

// Execute runs fn under circuit protection. A zero timeout means the
// caller's context carries the deadline. Timeouts count as failures.
// If a fallback is configured for the rejection path, pass it via
// ExecuteWithFallback instead.
func (cb *CircuitBreaker) Execute(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	return cb.ExecuteWithFallback(ctx, timeout, fn, nil)
}

// ExecuteWithFallback runs fn under circuit protection. On rejection
// with a non-nil fallback, the fallback runs and its result is treated
// as a degraded success: the breaker state is untouched.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error, fallback Fallback) error {
	if !cb.acquire() {
		cb.mu.Lock()
		cb.rejectedExecutions++
		cb.mu.Unlock()
		cb.config.Metrics.RecordRejection(cb.config.Name)

		cb.config.Logger.Debug("Circuit breaker rejected call", map[string]interface{}{
			"operation": "circuit_breaker_reject",
			"name":      cb.config.Name,
			"state":     cb.State().String(),
		})

		if fallback != nil {
			return fallback(ctx)
		}
		return fmt.Errorf("circuit breaker %q is open: %w", cb.config.Name, core.ErrCircuitOpen)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err == nil && callCtx.Err() != nil {
		// The call raced its own deadline; a torn result is a failure.
		err = fmt.Errorf("call to %s exceeded deadline: %w", cb.config.Name, core.ErrTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("call to %s timed out: %w", cb.config.Name, core.ErrTimeout)
	}

	cb.record(err)
	return err
}

// acquire decides whether a call may proceed, performing the
// open -> half-open transition when the cooldown has elapsed.
func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalExecutions++

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.Cooldown {
			return false
		}
		cb.transitionLocked(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return true

	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenProbes {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

// record applies a call outcome to the state machine.
func (cb *CircuitBreaker) record(err error) {
	counts := err != nil && cb.config.ErrorClassifier(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err == nil {
		cb.config.Metrics.RecordSuccess(cb.config.Name)
		switch cb.state {
		case StateClosed:
			cb.failureCount = 0
		case StateHalfOpen:
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.config.SuccessThreshold {
				cb.transitionLocked(StateClosed)
			}
		}
		return
	}

	if !counts {
		return
	}

	cb.config.Metrics.RecordFailure(cb.config.Name)
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// Any failure during probing reopens with a fresh cooldown.
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked changes state. Callers hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(newState CircuitState) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState

	switch newState {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.halfOpenSuccess = 0
		cb.halfOpenInFlight = 0
	case StateHalfOpen:
		cb.halfOpenSuccess = 0
	case StateClosed:
		cb.failureCount = 0
		cb.halfOpenSuccess = 0
		cb.halfOpenInFlight = 0
	}

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation":     "circuit_breaker_transition",
		"name":          cb.config.Name,
		"from":          oldState.String(),
		"to":            newState.String(),
		"failure_count": cb.failureCount,
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())

	for _, listener := range cb.listeners {
		go listener(cb.config.Name, oldState, newState)
	}
}

// AddStateChangeListener registers a callback for state transitions.
func (cb *CircuitBreaker) AddStateChangeListener(listener func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, listener)
	cb.mu.Unlock()
}

// State returns the current state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns a snapshot of breaker counters for health surfaces.
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := map[string]interface{}{
		"name":                cb.config.Name,
		"state":               cb.state.String(),
		"failure_count":       cb.failureCount,
		"total_executions":    cb.totalExecutions,
		"rejected_executions": cb.rejectedExecutions,
	}
	if !cb.lastFailure.IsZero() {
		m["last_failure"] = cb.lastFailure.UTC().Format(time.RFC3339)
	}
	if cb.state == StateOpen {
		m["cooldown_remaining_ms"] = maxInt64(0, (cb.config.Cooldown - time.Since(cb.openedAt)).Milliseconds())
	}
	if cb.state == StateHalfOpen {
		m["half_open_successes"] = cb.halfOpenSuccess
	}
	return m
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenSuccess = 0
	cb.halfOpenInFlight = 0

	cb.config.Logger.Info("Circuit breaker reset", map[string]interface{}{
		"operation":      "circuit_breaker_reset",
		"name":           cb.config.Name,
		"previous_state": old.String(),
	})
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
