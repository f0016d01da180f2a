package types

import "time"

// Command is a task's executable body. The engine treats it as an
// opaque callable: it supplies the TaskContext and observes the Result,
// nothing else.
type Command func(tc *TaskContext) Result

// TaskHook is invoked synchronously on the worker goroutine that
// completed the task, before any dependent task is released.
type TaskHook func(task string, result Result)

// BackoffKind selects the delay strategy between retry attempts.
type BackoffKind string

const (
	// BackoffNone disables waiting between attempts.
	BackoffNone BackoffKind = "none"
	// BackoffLinear waits attempt_number x base interval.
	BackoffLinear BackoffKind = "linear"
	// BackoffExponential waits base x 2^(attempt_number-1), capped at
	// the policy's MaxInterval.
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy bounds how often and how patiently a task is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, first try
	// included. Values below 1 are treated as 1.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// Backoff selects the inter-attempt delay strategy.
	Backoff BackoffKind `yaml:"backoff" json:"backoff"`
	// BaseInterval is the backoff unit.
	BaseInterval time.Duration `yaml:"base_interval" json:"base_interval"`
	// MaxInterval caps exponential growth. Zero means no cap.
	MaxInterval time.Duration `yaml:"max_interval" json:"max_interval"`
}

// DefaultRetryPolicy returns the policy applied to tasks that declare
// none: a single attempt, no backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  1,
		Backoff:      BackoffNone,
		BaseInterval: time.Second,
		MaxInterval:  30 * time.Second,
	}
}

// IsZero reports whether the policy was left unset and should inherit
// the workflow default.
func (p RetryPolicy) IsZero() bool {
	return p.MaxAttempts == 0 && p.Backoff == "" && p.BaseInterval == 0 && p.MaxInterval == 0
}

// ResourceRequest asks the ledger for a named quantity before the
// task body runs. The allocation is released when the task settles.
type ResourceRequest struct {
	Kind   string `yaml:"kind" json:"kind"`
	Amount int64  `yaml:"amount" json:"amount"`
}

// SecurityPolicy is the task's declared sandbox contract. The engine
// carries it as data; enforcement belongs to the command invoker.
type SecurityPolicy struct {
	Sandbox    bool     `yaml:"sandbox" json:"sandbox"`
	AllowedOps []string `yaml:"allowed_ops" json:"allowed_ops,omitempty"`
}

// Task is one named unit of work in a workflow. Tasks are constructed
// once at graph-build time and never mutated afterwards; per-run state
// (attempts, status, outputs) lives in the engine's execution records.
type Task struct {
	// Name uniquely identifies the task within its workflow.
	Name string `yaml:"name" json:"name"`
	// Description is free text for reports and logs.
	Description string `yaml:"description" json:"description,omitempty"`
	// Command is the opaque body. Nil commands succeed immediately
	// with empty outputs (pure grouping nodes).
	Command Command `yaml:"-" json:"-"`
	// DependsOn names the tasks that must reach a terminal state
	// before this one starts. Names must resolve within the same
	// graph; self-reference is rejected.
	DependsOn []string `yaml:"depends_on" json:"depends_on,omitempty"`
	// Params are passed verbatim to the command.
	Params map[string]string `yaml:"params" json:"params,omitempty"`
	// Timeout is the hard wall-clock bound per attempt. Zero inherits
	// the workflow default.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// Retry bounds re-execution after failed attempts. The zero value
	// inherits the workflow default.
	Retry RetryPolicy `yaml:"retries" json:"retries,omitempty"`
	// AlwaysRun makes the task eligible once its dependencies are
	// merely resolved, regardless of their outcome.
	AlwaysRun bool `yaml:"always_run" json:"always_run,omitempty"`
	// Async marks the task's internal work as eligible to fan out
	// through the engine's worker pool. It does not exempt the task
	// from the global concurrency limit.
	Async bool `yaml:"async" json:"async,omitempty"`
	// RunIf is an optional condition expression. When it evaluates to
	// false against the run's parameters, environment, and upstream
	// outputs, the task is skipped.
	RunIf string `yaml:"run_if" json:"run_if,omitempty"`
	// Resources list ledger allocations held for the task's whole
	// execution, released when it settles.
	Resources []ResourceRequest `yaml:"resources" json:"resources,omitempty"`
	// CircuitName routes the command through the named circuit
	// breaker when non-empty.
	CircuitName string `yaml:"circuit" json:"circuit,omitempty"`
	// Security is the declared sandbox policy, carried as data.
	Security SecurityPolicy `yaml:"security" json:"security,omitempty"`
	// OnSuccess and OnFailure run synchronously after the task
	// settles, on the completing worker goroutine.
	OnSuccess TaskHook `yaml:"-" json:"-"`
	OnFailure TaskHook `yaml:"-" json:"-"`
	// Compensate is the task's saga compensation body. When the run
	// fails, compensations of tasks that had already succeeded are
	// invoked in reverse completion order, best effort.
	Compensate Command `yaml:"-" json:"-"`
}
