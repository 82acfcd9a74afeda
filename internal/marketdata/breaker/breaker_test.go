package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failingCall(calls *int) func() (interface{}, error) {
	return func() (interface{}, error) {
		*calls++
		return nil, errUpstream
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 5, Cooldown: time.Minute})

	calls := 0
	for i := 0; i < 5; i++ {
		_, err := b.Execute(failingCall(&calls))
		require.ErrorIs(t, err, errUpstream)
	}
	require.Equal(t, 5, calls)
	require.Equal(t, gobreaker.StateOpen, b.State())

	// The sixth call must not reach the upstream at all.
	_, err := b.Execute(failingCall(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, calls)
}

func TestBreaker_StaysOpenDuringCooldown(t *testing.T) {
	b := New(Config{FailureThreshold: 2, Cooldown: time.Minute})

	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingCall(&calls))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	// Well inside the cooldown window: fail fast, no network attempt.
	_, err := b.Execute(failingCall(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	b := New(Config{FailureThreshold: 2, Cooldown: 30 * time.Millisecond})

	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingCall(&calls))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)

	// Exactly one trial call passes through; success closes the breaker.
	out, err := b.Execute(func() (interface{}, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 2, Cooldown: 30 * time.Millisecond})

	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingCall(&calls))
	}
	time.Sleep(40 * time.Millisecond)

	_, err := b.Execute(failingCall(&calls))
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// Back in cooldown: fail fast again.
	_, err = b.Execute(failingCall(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: time.Minute})

	calls := 0
	_, _ = b.Execute(failingCall(&calls))
	_, _ = b.Execute(failingCall(&calls))

	_, err := b.Execute(func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	// Two more failures do not trip the breaker: the count was reset.
	_, _ = b.Execute(failingCall(&calls))
	_, _ = b.Execute(failingCall(&calls))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_StateValue(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: time.Minute})
	assert.Equal(t, 0.0, b.StateValue())

	_, _ = b.Execute(func() (interface{}, error) { return nil, errUpstream })
	assert.Equal(t, 2.0, b.StateValue())
}
