package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/types"
)

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	var calls atomic.Int32
	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name: "ok",
			Command: func(tc *types.TaskContext) types.Result {
				calls.Add(1)
				return types.Succeed("done", types.Outputs{"value": 42})
			},
		},
	})

	assert.True(t, result.OK)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 42, result.Outputs["value"])
}

func TestExecutor_NilCommandSucceeds(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{Name: "group"},
	})

	assert.True(t, result.OK)
	assert.Equal(t, 1, result.Attempts)
}

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	var calls atomic.Int32
	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name: "flaky",
			Retry: types.RetryPolicy{
				MaxAttempts:  5,
				Backoff:      types.BackoffNone,
				BaseInterval: time.Millisecond,
			},
			Command: func(tc *types.TaskContext) types.Result {
				if calls.Add(1) < 3 {
					return types.Fail("transient", errors.New("boom"))
				}
				return types.Succeed("recovered", nil)
			},
		},
	})

	assert.True(t, result.OK)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecutor_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	var calls atomic.Int32
	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name: "doomed",
			Retry: types.RetryPolicy{
				MaxAttempts:  3,
				Backoff:      types.BackoffLinear,
				BaseInterval: time.Millisecond,
			},
			Command: func(tc *types.TaskContext) types.Result {
				calls.Add(1)
				return types.Fail("still broken", errors.New("boom"))
			},
		},
	})

	assert.False(t, result.OK)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, types.ErrCodeRetriesExhausted, types.GetErrorCode(result.Err))
	assert.ErrorContains(t, result.Err, "after 3 attempts")
}

func TestExecutor_ExponentialBackoffIncreasesDelays(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	var mu sync.Mutex
	var starts []time.Time
	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name: "flaky-downstream",
			Retry: types.RetryPolicy{
				MaxAttempts:  3,
				Backoff:      types.BackoffExponential,
				BaseInterval: 40 * time.Millisecond,
				MaxInterval:  time.Second,
			},
			Command: func(tc *types.TaskContext) types.Result {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return types.Fail("still broken", errors.New("boom"))
			},
		},
	})

	assert.False(t, result.OK)
	assert.Equal(t, 3, result.Attempts)
	require.Len(t, starts, 3)

	firstGap := starts[1].Sub(starts[0])
	secondGap := starts[2].Sub(starts[1])
	// Waits are base<<(n-1): 40ms then 80ms. Lower bounds only; timers
	// never fire early, but a loaded machine can stretch either gap.
	assert.GreaterOrEqual(t, firstGap, 40*time.Millisecond)
	assert.GreaterOrEqual(t, secondGap, 80*time.Millisecond)
	assert.Greater(t, secondGap, firstGap)
}

func TestExecutor_TimeoutBoundsAttempt(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	begin := time.Now()
	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name:    "hang",
			Timeout: 100 * time.Millisecond,
			Command: func(tc *types.TaskContext) types.Result {
				<-tc.Context().Done()
				return types.Fail("cancelled", tc.Context().Err())
			},
		},
	})

	assert.False(t, result.OK)
	assert.Equal(t, types.ErrCodeTimeout, types.GetErrorCode(result.Err))
	assert.Less(t, time.Since(begin), time.Second)
}

func TestExecutor_TimeoutAppliesPerAttempt(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	var calls atomic.Int32
	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name:    "hang",
			Timeout: 50 * time.Millisecond,
			Retry: types.RetryPolicy{
				MaxAttempts: 2,
				Backoff:     types.BackoffNone,
			},
			Command: func(tc *types.TaskContext) types.Result {
				calls.Add(1)
				<-tc.Context().Done()
				return types.Fail("cancelled", tc.Context().Err())
			},
		},
	})

	assert.False(t, result.OK)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecutor_ParentCancelStopsRetrying(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	result := exec.Execute(ctx, Invocation{
		Task: &types.Task{
			Name: "cancelled-run",
			Retry: types.RetryPolicy{
				MaxAttempts:  10,
				Backoff:      types.BackoffLinear,
				BaseInterval: time.Hour,
			},
			Command: func(tc *types.TaskContext) types.Result {
				calls.Add(1)
				cancel()
				return types.Fail("fail then cancel", errors.New("boom"))
			},
		},
	})

	assert.False(t, result.OK)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name: "panics",
			Command: func(tc *types.TaskContext) types.Result {
				panic("kaboom")
			},
		},
	})

	assert.False(t, result.OK)
	assert.ErrorContains(t, result.Err, "kaboom")
}

func TestExecutor_ExportsWinMerge(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)

	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name: "exporter",
			Command: func(tc *types.TaskContext) types.Result {
				tc.Export("shared", "from-export")
				tc.Export("extra", true)
				return types.Succeed("done", types.Outputs{
					"shared":   "from-return",
					"returned": 1,
				})
			},
		},
	})

	require.True(t, result.OK)
	assert.Equal(t, "from-export", result.Outputs["shared"])
	assert.Equal(t, true, result.Outputs["extra"])
	assert.Equal(t, 1, result.Outputs["returned"])
}

func TestExecutor_CircuitRejectionIsTerminal(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)
	breaker := NewBreaker("ext", BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil, nil)
	breaker.RecordFailure() // trip it

	var calls atomic.Int32
	result := exec.Execute(context.Background(), Invocation{
		Task: &types.Task{
			Name:        "guarded",
			CircuitName: "ext",
			Retry:       types.RetryPolicy{MaxAttempts: 5, Backoff: types.BackoffNone},
			Command: func(tc *types.TaskContext) types.Result {
				calls.Add(1)
				return types.Succeed("unreachable", nil)
			},
		},
		Breaker: breaker,
	})

	assert.False(t, result.OK)
	assert.Equal(t, int32(0), calls.Load())
	var openErr *types.CircuitOpenError
	assert.True(t, errors.As(result.Err, &openErr))
}

func TestExecutor_BreakerRecordsOutcomes(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil, nil)
	breaker := NewBreaker("ext", BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}, nil, nil)

	failing := Invocation{
		Task: &types.Task{
			Name:        "guarded",
			CircuitName: "ext",
			Command: func(tc *types.TaskContext) types.Result {
				return types.Fail("down", errors.New("down"))
			},
		},
		Breaker: breaker,
	}

	exec.Execute(context.Background(), failing)
	assert.Equal(t, CircuitClosed, breaker.State())
	exec.Execute(context.Background(), failing)
	assert.Equal(t, CircuitOpen, breaker.State())
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	linear := types.RetryPolicy{Backoff: types.BackoffLinear, BaseInterval: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(linear, 1))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(linear, 3))

	exp := types.RetryPolicy{
		Backoff:      types.BackoffExponential,
		BaseInterval: 100 * time.Millisecond,
		MaxInterval:  500 * time.Millisecond,
	}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(exp, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(exp, 2))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(exp, 3))
	assert.Equal(t, 500*time.Millisecond, backoffDelay(exp, 4))

	none := types.RetryPolicy{Backoff: types.BackoffNone}
	assert.Equal(t, time.Duration(0), backoffDelay(none, 3))
}
