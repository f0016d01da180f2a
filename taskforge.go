// Package taskforge provides a top-level convenience entry point for
// running workflows with minimal boilerplate.
//
// Usage:
//
//	import "github.com/taskforge/taskforge"
//
//	runner := taskforge.NewRunner(taskforge.WithLogger(logger))
//	report, err := runner.Run(ctx, workflow)
//
// This is a thin wrapper around [engine.NewRunner]; both produce
// identical results. Use this package when you prefer the shorter
// import path.
package taskforge

import (
	"github.com/taskforge/taskforge/engine"
	"github.com/taskforge/taskforge/types"
)

// Core workflow types, re-exported so simple callers never need to
// import types/.
type (
	Workflow    = types.Workflow
	Task        = types.Task
	Command     = types.Command
	TaskContext = types.TaskContext
	Result      = types.Result
	Outputs     = types.Outputs
	RetryPolicy = types.RetryPolicy
	RunReport   = engine.RunReport
)

// Runner executes workflows; see [engine.Runner].
type Runner = engine.Runner

// Option configures the runner created by [NewRunner].
type Option = engine.RunnerOption

// NewRunner creates a workflow runner.
func NewRunner(opts ...Option) *Runner {
	return engine.NewRunner(opts...)
}

// Succeed constructs a success Result.
var Succeed = types.Succeed

// Fail constructs a failure Result.
var Fail = types.Fail

// Re-export runner options so callers never need to import engine/.

// WithLogger sets a custom zap logger.
var WithLogger = engine.WithLogger

// WithStore exposes a shared state store to tasks.
var WithStore = engine.WithStore

// WithLedger installs a resource ledger.
var WithLedger = engine.WithLedger

// WithMetrics installs a Prometheus collector.
var WithMetrics = engine.WithMetrics

// WithBreakerConfig overrides circuit breaker defaults.
var WithBreakerConfig = engine.WithBreakerConfig

// WithEnv exposes values to run_if guards.
var WithEnv = engine.WithEnv
