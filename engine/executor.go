package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/metrics"
	"github.com/taskforge/taskforge/types"
)

// Invocation bundles everything one task execution needs.
type Invocation struct {
	Task *types.Task
	// Deps holds the outputs of resolved dependencies keyed by task
	// name. Skipped dependencies contribute an empty map.
	Deps map[string]types.Outputs
	// Store is the shared state surface handed to the task body.
	Store types.Store
	// FanOut backs TaskContext.Parallel for async tasks. Nil otherwise.
	FanOut types.FanOutFunc
	// Breaker guards the call when the task declares a protected
	// external operation. Nil otherwise.
	Breaker *Breaker
}

// Executor wraps a single task invocation with a hard wall-clock
// timeout per attempt and backoff retry per the task's policy.
type Executor struct {
	logger *zap.Logger
	mc     *metrics.Collector
}

// NewExecutor creates an executor.
func NewExecutor(logger *zap.Logger, mc *metrics.Collector) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger: logger.With(zap.String("component", "executor")),
		mc:     mc,
	}
}

// Execute drives the task through up to MaxAttempts invocations. Every
// attempt is independently subject to the task's timeout; expiry
// abandons the attempt as a Timeout failure and cancels the body's
// context (cooperatively — opaque work must honor cancellation).
// Failures are retried after the policy's backoff interval until
// attempts are exhausted; the last failure is then returned tagged
// with the attempt count. Circuit rejections are never retried against
// the same breaker within its cooldown.
func (e *Executor) Execute(ctx context.Context, inv Invocation) types.Result {
	task := inv.Task
	policy := task.Retry
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last types.Result
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if inv.Breaker != nil {
			if err := inv.Breaker.Allow(); err != nil {
				e.logger.Warn("call rejected by open circuit",
					zap.String("task", task.Name),
					zap.String("circuit", task.CircuitName),
					zap.Int("attempt", attempt))
				result := types.Fail("circuit open", err)
				result.Attempts = attempt
				return result
			}
		}

		last = e.attempt(ctx, inv, attempt)
		if inv.Breaker != nil {
			if last.OK {
				inv.Breaker.RecordSuccess()
			} else {
				inv.Breaker.RecordFailure()
			}
		}

		if last.OK {
			last.Attempts = attempt
			return last
		}

		if !types.IsRetryable(last.Err) || ctx.Err() != nil {
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(policy, attempt)
		e.mc.ObserveRetry()
		e.logger.Warn("task attempt failed, retrying",
			zap.String("task", task.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(last.Err))

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				last = types.Fail("run cancelled during backoff", ctx.Err())
				last.Attempts = attempt
				return last
			}
		}
	}

	last.Attempts = attempts
	if last.Err != nil && attempts == maxAttempts && maxAttempts > 1 && types.IsRetryable(last.Err) {
		last.Err = types.NewError(types.ErrCodeRetriesExhausted,
			fmt.Sprintf("task %s failed after %d attempts", task.Name, attempts)).
			WithCause(last.Err)
	}
	return last
}

// attempt runs the body once under the task's timeout. The body runs
// in its own goroutine so a hung command cannot block the executor
// past the deadline; the goroutine is abandoned on expiry and its
// context cancelled.
func (e *Executor) attempt(ctx context.Context, inv Invocation, attempt int) types.Result {
	task := inv.Task

	var attemptCtx context.Context
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	tc := types.NewTaskContext(attemptCtx, task.Params, inv.Deps, inv.Store, inv.FanOut)

	if task.Command == nil {
		return types.Succeed("no-op", tc.Exports())
	}

	done := make(chan types.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.Fail("task panicked",
					types.NewError(types.ErrCodeTaskFailure, fmt.Sprintf("panic: %v", r)).WithRetryable(true))
			}
		}()
		done <- task.Command(tc)
	}()

	select {
	case result := <-done:
		result.Outputs = types.MergeOutputs(result.Outputs, tc.Exports())
		if !result.OK && result.Err == nil {
			result.Err = types.NewError(types.ErrCodeTaskFailure, result.Message).WithRetryable(true)
		}
		return result

	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return types.Fail("run cancelled", ctx.Err())
		}
		e.logger.Warn("task attempt timed out",
			zap.String("task", task.Name),
			zap.Int("attempt", attempt),
			zap.Duration("timeout", task.Timeout))
		return types.Fail(
			fmt.Sprintf("attempt %d exceeded timeout %v", attempt, task.Timeout),
			types.NewError(types.ErrCodeTimeout,
				fmt.Sprintf("task %s timed out after %v", task.Name, task.Timeout)).WithRetryable(true))
	}
}

// backoffDelay computes the wait before the attempt following the
// given failed attempt number (1-based).
func backoffDelay(policy types.RetryPolicy, failedAttempt int) time.Duration {
	base := policy.BaseInterval
	if base <= 0 {
		base = time.Second
	}
	switch policy.Backoff {
	case types.BackoffLinear:
		return time.Duration(failedAttempt) * base
	case types.BackoffExponential:
		delay := base << (failedAttempt - 1)
		if policy.MaxInterval > 0 && delay > policy.MaxInterval {
			delay = policy.MaxInterval
		}
		return delay
	default:
		return 0
	}
}
