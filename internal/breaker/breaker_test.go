// ABOUTME: Tests for the per-backend circuit breaker.
// ABOUTME: Covers state transitions, timeout-driven probing, reset, and concurrency safety.

package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_Untracked_AlwaysAllowed(t *testing.T) {
	b := New(nil)

	d := b.CanExecute("never-seen")
	assert.True(t, d.Allowed)
	assert.Equal(t, StateClosed, d.State)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New(nil)

	// One short of the threshold: still closed.
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure("backend-1")
	}
	d := b.CanExecute("backend-1")
	assert.True(t, d.Allowed)
	assert.Equal(t, StateClosed, d.State)

	// The threshold failure opens the circuit.
	b.RecordFailure("backend-1")
	d = b.CanExecute("backend-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, StateOpen, d.State)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := New(nil)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure("backend-1")
	}
	b.RecordSuccess("backend-1")

	st := b.Status("backend-1")
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.False(t, st.LastSuccessAt.IsZero())

	// The counter restarted, so the next failure does not open.
	b.RecordFailure("backend-1")
	assert.True(t, b.CanExecute("backend-1").Allowed)
}

func TestBreaker_RecordSuccess_UntrackedIsNoop(t *testing.T) {
	b := New(nil)

	b.RecordSuccess("never-seen")

	st := b.Status("never-seen")
	assert.Equal(t, StateClosed, st.State)
	assert.True(t, st.LastSuccessAt.IsZero())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := New(nil)
	b.Configure("backend-1", Config{FailureThreshold: 2, ResetTimeout: 20 * time.Millisecond})

	b.RecordFailure("backend-1")
	b.RecordFailure("backend-1")
	require.False(t, b.CanExecute("backend-1").Allowed)

	time.Sleep(30 * time.Millisecond)

	d := b.CanExecute("backend-1")
	assert.True(t, d.Allowed)
	assert.Equal(t, StateHalfOpen, d.State)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New(nil)
	b.Configure("backend-1", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	b.RecordFailure("backend-1")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.CanExecute("backend-1").State)

	// A single failure during half-open reopens immediately.
	b.RecordFailure("backend-1")
	d := b.CanExecute("backend-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, StateOpen, d.State)
}

func TestBreaker_SuccessfulProbeCloses(t *testing.T) {
	b := New(nil)
	b.Configure("backend-1", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	b.RecordFailure("backend-1")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.CanExecute("backend-1").State)

	b.RecordSuccess("backend-1")

	st := b.Status("backend-1")
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestBreaker_StatusPerformsTimeoutCheck(t *testing.T) {
	b := New(nil)
	b.Configure("backend-1", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	b.RecordFailure("backend-1")
	require.Equal(t, StateOpen, b.Status("backend-1").State)

	time.Sleep(20 * time.Millisecond)

	// Status alone must observe the transition, same as CanExecute.
	assert.Equal(t, StateHalfOpen, b.Status("backend-1").State)
}

func TestBreaker_Reset(t *testing.T) {
	b := New(nil)
	b.Configure("backend-1", Config{FailureThreshold: 1, ResetTimeout: time.Hour})

	b.RecordFailure("backend-1")
	require.False(t, b.CanExecute("backend-1").Allowed)

	b.Reset("backend-1")

	d := b.CanExecute("backend-1")
	assert.True(t, d.Allowed)
	assert.Equal(t, StateClosed, d.State)
	assert.Equal(t, DefaultConfig(), b.Status("backend-1").Config)
}

func TestBreaker_ConfigureZeroFieldsUseDefaults(t *testing.T) {
	b := New(nil)

	b.Configure("backend-1", Config{})

	st := b.Status("backend-1")
	assert.Equal(t, DefaultFailureThreshold, st.Config.FailureThreshold)
	assert.Equal(t, DefaultResetTimeout, st.Config.ResetTimeout)
}

func TestBreaker_BackendsAreIndependent(t *testing.T) {
	b := New(nil)
	b.Configure("backend-1", Config{FailureThreshold: 1, ResetTimeout: time.Hour})

	b.RecordFailure("backend-1")

	assert.False(t, b.CanExecute("backend-1").Allowed)
	assert.True(t, b.CanExecute("backend-2").Allowed)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.RecordFailure("backend-1")
				b.CanExecute("backend-1")
				b.RecordSuccess("backend-1")
				b.Status("backend-1")
			}
		}()
	}
	wg.Wait()

	// Final RecordSuccess calls leave the circuit in a sane closed state.
	b.RecordSuccess("backend-1")
	st := b.Status("backend-1")
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}
