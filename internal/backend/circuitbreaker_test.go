package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(5, 30*time.Second)
	now := time.Now()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(now)
		assert.Equal(t, CircuitClosed, cb.State(), "breaker must stay closed before threshold (failure %d)", i+1)
	}

	cb.RecordFailure(now)
	assert.Equal(t, CircuitOpen, cb.State(), "breaker must open on exactly the 5th consecutive failure")
	assert.False(t, cb.Allow(now), "open breaker must reject requests within the cooldown")
}

func TestCircuitBreaker_HalfOpenThenClose(t *testing.T) {
	cb := NewCircuitBreaker(5, 30*time.Second)
	now := time.Now()
	for i := 0; i < 5; i++ {
		cb.RecordFailure(now)
	}
	require.Equal(t, CircuitOpen, cb.State())

	later := now.Add(31 * time.Second)
	require.True(t, cb.Allow(later), "breaker must transition to half_open once cooldown elapses")
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State(), "a single success in half_open must close the breaker")
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(5, 30*time.Second)
	now := time.Now()
	for i := 0; i < 5; i++ {
		cb.RecordFailure(now)
	}
	later := now.Add(31 * time.Second)
	require.True(t, cb.Allow(later))
	require.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordFailure(later)
	assert.Equal(t, CircuitOpen, cb.State(), "a failure in half_open must reopen the breaker")
	assert.False(t, cb.Allow(later), "reopened breaker must not admit requests immediately")
}

func TestCircuitBreaker_SuccessDecrementsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(5, 30*time.Second)
	now := time.Now()
	cb.RecordFailure(now)
	cb.RecordFailure(now)
	require.Equal(t, 2, cb.Failures())

	cb.RecordSuccess()
	assert.Equal(t, 1, cb.Failures())
}
