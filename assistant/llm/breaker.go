// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	// BreakerClosed allows all calls through.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects calls until the reset timeout elapses.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen allows exactly one trial call through.
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker defaults.
const (
	// DefaultTripThreshold is the consecutive-failure count that opens
	// the breaker.
	DefaultTripThreshold = 3

	// DefaultResetTimeout is how long the breaker stays open before
	// allowing a trial call.
	DefaultResetTimeout = 60 * time.Second
)

// CircuitBreaker gates whether a provider may be called. One instance
// exists per provider for the lifetime of the process; state is not
// persisted, the breaker re-learns from live traffic after a restart.
type CircuitBreaker struct {
	mu            sync.Mutex
	failureCount  int
	lastFailureAt time.Time
	state         BreakerState
	tripThreshold int
	resetTimeout  time.Duration
	now           func() time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithTripThreshold sets the consecutive-failure trip threshold.
func WithTripThreshold(n int) BreakerOption {
	return func(b *CircuitBreaker) {
		if n > 0 {
			b.tripThreshold = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(b *CircuitBreaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithBreakerClock sets the time source (tests).
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		b.now = now
	}
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		state:         BreakerClosed,
		tripThreshold: DefaultTripThreshold,
		resetTimeout:  DefaultResetTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsTripped reports whether calls must be rejected. While open, it returns
// true until the reset timeout has elapsed since the last failure; at that
// point the breaker transitions to half-open and returns false exactly
// once, letting a single trial call through.
func (b *CircuitBreaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailureAt) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			return false
		}
		return true
	case BreakerHalfOpen:
		// The single trial call is already in flight; reject until its
		// outcome is recorded.
		return true
	default:
		return false
	}
}

// RecordFailure counts a failed call. Reaching the trip threshold, or any
// failure of a half-open trial call, opens the breaker and restarts the
// reset timer.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.failureCount >= b.tripThreshold || b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.lastFailureAt = b.now()
	}
}

// RecordSuccess resets the failure count. A successful half-open trial
// call fully closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == BreakerHalfOpen || b.state == BreakerOpen {
		b.state = BreakerClosed
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
