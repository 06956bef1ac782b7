// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vonage

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/pstnbridge/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit open, requests blocked
	StateHalfOpen              // Testing if service recovered
)

func (s State) String() string { return stateLabel(s) }

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling the platform after repeated availability failures.
// Only errors for which the counted predicate returns true trip it; a rejected
// request proves the platform is up.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	failureThreshold int
	resetTimeout     time.Duration
	lastFailure      time.Time
	now              func() time.Time
	counted          func(error) bool
}

// NewCircuitBreaker creates a new circuit breaker. A threshold below 1 disables it.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		counted:          isAvailabilityFailure,
	}
	metrics.SetAPIBreakerState(stateLabel(cb.state))
	return cb
}

func isAvailabilityFailure(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrUpstreamError) ||
		errors.Is(err, ErrTimeout)
}

// Execute runs fn if the circuit is closed or half-open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb == nil || cb.failureThreshold < 1 {
		return fn()
	}
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && cb.counted(err) {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	}
	if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		cb.setState(StateHalfOpen)
		return true
	}
	return false
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen {
		cb.setState(StateOpen)
		metrics.RecordAPIBreakerTrip("half_open_failure")
		return
	}
	if cb.state == StateClosed && cb.failures >= cb.failureThreshold {
		cb.setState(StateOpen)
		metrics.RecordAPIBreakerTrip("threshold")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(StateClosed)
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	metrics.SetAPIBreakerState(stateLabel(s))
}

// State returns the current state (thread-safe).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func stateLabel(state State) string {
	switch state {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
