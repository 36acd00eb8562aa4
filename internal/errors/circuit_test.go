package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that trips after 2 failures
	cb := NewCircuitBreaker("embedder", WithMaxFailures(2), WithResetTimeout(time.Hour))
	failing := func() error { return errors.New("connection refused") }

	// When: two calls fail
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	// Then: the circuit is open and calls are rejected without running fn
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	// Given: an open breaker with a controllable clock
	now := time.Now()
	cb := NewCircuitBreaker("scorer", WithMaxFailures(1), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	_ = cb.Execute(func() error { return errors.New("down") })
	require.Equal(t, StateOpen, cb.State())

	// When: the reset timeout passes
	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Then: a failed probe reopens the circuit
	_ = cb.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())

	// And: a successful probe after another timeout closes it
	now = now.Add(2 * time.Second)
	v, err := CircuitCall(cb, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
