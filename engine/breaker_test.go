package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/types"
)

func testBreaker(t *testing.T, threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	t.Helper()
	b := NewBreaker("test", BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown}, nil, nil)
	clock := time.Now()
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	t.Parallel()
	b, _ := testBreaker(t, 3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, CircuitClosed, b.State())
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b, _ := testBreaker(t, 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures())

	// Two more failures must not open: the streak was broken.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_OpenRejectsWithRetryAfter(t *testing.T) {
	t.Parallel()
	b, clock := testBreaker(t, 1, time.Minute)

	b.RecordFailure()
	require.Equal(t, CircuitOpen, b.State())

	*clock = clock.Add(10 * time.Second)
	err := b.Allow()
	require.Error(t, err)

	var openErr *types.CircuitOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "test", openErr.Name)
	assert.Equal(t, 50*time.Second, openErr.RetryAfter)
	assert.False(t, types.IsRetryable(err))
}

func TestBreaker_CooldownAdmitsSingleTrial(t *testing.T) {
	t.Parallel()
	b, clock := testBreaker(t, 1, time.Minute)

	b.RecordFailure()
	*clock = clock.Add(time.Minute)

	// First call after the cooldown is the trial.
	require.NoError(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())

	// Concurrent second call is rejected while the trial is in flight.
	require.Error(t, b.Allow())
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	t.Parallel()
	b, clock := testBreaker(t, 1, time.Minute)

	b.RecordFailure()
	*clock = clock.Add(time.Minute)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.NoError(t, b.Allow())
}

func TestBreaker_TrialFailureReopensAndRestartsCooldown(t *testing.T) {
	t.Parallel()
	b, clock := testBreaker(t, 1, time.Minute)

	b.RecordFailure()
	*clock = clock.Add(time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	require.Equal(t, CircuitOpen, b.State())

	// Half the new cooldown: still rejecting.
	*clock = clock.Add(30 * time.Second)
	assert.Error(t, b.Allow())

	// Full cooldown from the trial failure: trial admitted again.
	*clock = clock.Add(30 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := testBreaker(t, 1, time.Hour)

	b.RecordFailure()
	require.Equal(t, CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.NoError(t, b.Allow())
}

func TestBreakerRegistry_SharesInstancePerName(t *testing.T) {
	t.Parallel()
	reg := NewBreakerRegistry(DefaultBreakerConfig(), nil, nil)

	a := reg.GetOrCreate("payments")
	b := reg.GetOrCreate("payments")
	c := reg.GetOrCreate("inventory")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	states := reg.States()
	assert.Len(t, states, 2)
	assert.Equal(t, CircuitClosed, states["payments"])
}
