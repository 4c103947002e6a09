package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterFailThreshold(t *testing.T) {
	b := New("agentA", Config{FailThreshold: 3, ResetTimeout: time.Minute, ProbeCount: 1}, nil)
	require.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("agentA", Config{FailThreshold: 3, ResetTimeout: time.Minute, ProbeCount: 1}, nil)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "success should reset the consecutive failure streak")
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := New("agentA", Config{FailThreshold: 1, ResetTimeout: 10 * time.Millisecond, ProbeCount: 1}, nil)
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	assert.False(t, b.CanExecute(), "should still fail fast before reset timeout elapses")

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.CanExecute(), "should transition to half-open once reset timeout elapses")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := New("agentA", Config{FailThreshold: 1, ResetTimeout: 10 * time.Millisecond, ProbeCount: 2}, nil)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.CanExecute())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State(), "should stay half-open until probe count satisfied")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New("agentA", Config{FailThreshold: 1, ResetTimeout: 10 * time.Millisecond, ProbeCount: 1}, nil)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.CanExecute())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OnlyOneHalfOpenClaimPerWindow(t *testing.T) {
	b := New("agentA", Config{FailThreshold: 1, ResetTimeout: 10 * time.Millisecond, ProbeCount: 1}, nil)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	var granted int
	for i := 0; i < 5; i++ {
		if b.CanExecute() && b.State() == StateHalfOpen {
			granted++
		}
	}
	assert.GreaterOrEqual(t, granted, 1)
}

func TestBreaker_Reset(t *testing.T) {
	b := New("agentA", Config{FailThreshold: 1, ResetTimeout: time.Minute, ProbeCount: 1}, nil)
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())
}
