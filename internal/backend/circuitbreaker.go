package backend

import (
	"sync"
	"time"
)

// CircuitState is one position in the breaker's state machine.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker is a consecutive-failure counter with a fixed cooldown:
// one backend, one mutex, no global lock.
//
//	closed    --[failures >= threshold]--> open
//	open      --[now-openedAt >= cooldown]--> half_open
//	half_open --[success]--> closed
//	half_open --[failure]--> open (timer reset)
type CircuitBreaker struct {
	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time

	threshold int
	cooldown  time.Duration

	onTransition func(from, to CircuitState)
}

// NewCircuitBreaker builds a breaker starting closed. threshold and
// cooldown default to 5 failures / 30s when zero-valued.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{state: CircuitClosed, threshold: threshold, cooldown: cooldown}
}

// OnTransition registers a listener invoked (synchronously, under no lock)
// whenever the breaker changes state. Used to feed telemetry counters.
func (cb *CircuitBreaker) OnTransition(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	cb.onTransition = fn
	cb.mu.Unlock()
}

// Allow reports whether a request may proceed, advancing open -> half_open
// as a side effect once the cooldown has elapsed. It never blocks.
func (cb *CircuitBreaker) Allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if now.Sub(cb.openedAt) >= cb.cooldown {
			cb.transition(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess decrements the failure counter toward zero and, from
// half_open, closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failures > 0 {
		cb.failures--
	}
	if cb.state == CircuitHalfOpen {
		cb.failures = 0
		cb.transition(CircuitClosed)
	}
}

// RecordFailure increments the failure counter, opening the breaker once
// the threshold is reached (or immediately, from half_open).
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.failures = cb.threshold
		cb.openedAt = now
		cb.transition(CircuitOpen)
		return
	}

	cb.failures++
	if cb.state == CircuitClosed && cb.failures >= cb.threshold {
		cb.openedAt = now
		cb.transition(CircuitOpen)
	}
}

// State returns the current state for diagnostics (check_backend_health,
// metadata in tool responses).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.onTransition != nil && from != to {
		listener := cb.onTransition
		cb.mu.Unlock()
		listener(from, to)
		cb.mu.Lock()
	}
}
