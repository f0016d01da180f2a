package types

import (
	"context"
	"time"
)

// WorkflowConfig is the recognized config block of a workflow
// descriptor. Its values act as defaults for tasks that do not
// override them.
type WorkflowConfig struct {
	// Timeout is the default per-attempt bound for tasks without one.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// RetryPolicy is the default for tasks that declare none.
	RetryPolicy RetryPolicy `yaml:"retry_policy" json:"retry_policy"`
	// MaxParallelTasks bounds concurrent task execution. Minimum 1.
	MaxParallelTasks int `yaml:"max_parallel_tasks" json:"max_parallel_tasks"`
	// CleanupOnFailure triggers saga compensation of succeeded tasks
	// when the run ends in failure.
	CleanupOnFailure bool `yaml:"cleanup_on_failure" json:"cleanup_on_failure"`
	// FailFast stops scheduling new work after the first terminal
	// task failure; running tasks finish, undispatched dependents are
	// marked skipped.
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
	// DispatchPerSecond optionally throttles task dispatch. Zero
	// disables the throttle.
	DispatchPerSecond float64 `yaml:"dispatch_per_second" json:"dispatch_per_second,omitempty"`
}

// DefaultWorkflowConfig returns the config applied when a descriptor
// omits the config block.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Timeout:          5 * time.Minute,
		RetryPolicy:      DefaultRetryPolicy(),
		MaxParallelTasks: 4,
	}
}

// StartHook runs before any task executes. Returning an error aborts
// the run: no task starts.
type StartHook func(ctx context.Context) error

// CompleteHook runs after scheduling ends, with the aggregate success
// flag and every task's terminal result.
type CompleteHook func(ctx context.Context, success bool, results map[string]Result)

// Workflow binds an ordered task list to metadata, configuration, and
// workflow-level lifecycle hooks for one Runner execution.
type Workflow struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Version     string         `yaml:"version" json:"version,omitempty"`
	Metadata    map[string]any `yaml:"metadata" json:"metadata,omitempty"`
	Tasks       []Task         `yaml:"tasks" json:"tasks"`
	Config      WorkflowConfig `yaml:"config" json:"config"`

	OnStart    StartHook    `yaml:"-" json:"-"`
	OnComplete CompleteHook `yaml:"-" json:"-"`
}
