package types

import (
	"context"
	"errors"
	"sync"
)

// Outputs is the named output map a task publishes for its dependents.
type Outputs map[string]any

// Result is the tagged outcome of one task invocation.
type Result struct {
	// OK distinguishes Success from Failure.
	OK bool `json:"ok"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// Outputs are the values returned by the task body. They are
	// merged with the TaskContext export buffer after the body
	// returns; explicit exports win on key conflict.
	Outputs Outputs `json:"outputs,omitempty"`
	// Err carries the failure cause. Nil on success.
	Err error `json:"-"`
	// Attempts records how many attempts the executor made before
	// this result settled. Zero until the executor stamps it.
	Attempts int `json:"attempts,omitempty"`
}

// Succeed constructs a success Result.
func Succeed(message string, outputs Outputs) Result {
	return Result{OK: true, Message: message, Outputs: outputs}
}

// Fail constructs a failure Result.
func Fail(message string, err error) Result {
	if err == nil {
		err = errors.New(message)
	}
	return Result{OK: false, Message: message, Err: err}
}

// FanOutFunc runs the given functions concurrently, bounded by the
// engine's async worker pool, and returns the first error.
type FanOutFunc func(ctx context.Context, fns []func(context.Context) error) error

// ErrNotAsync is returned by TaskContext.Parallel for tasks that did
// not declare the async flag.
var ErrNotAsync = errors.New("task is not declared async")

// TaskContext is handed to a task body for one invocation. It carries
// the invocation context, the task's parameters, the outputs of its
// dependencies, the shared state store, and a per-invocation export
// buffer that is merged into the result after the body returns.
type TaskContext struct {
	ctx    context.Context
	params map[string]string
	deps   map[string]Outputs
	store  Store
	fanOut FanOutFunc

	mu      sync.Mutex
	exports Outputs
}

// NewTaskContext constructs a TaskContext for one task invocation.
// fanOut may be nil for tasks without the async flag.
func NewTaskContext(ctx context.Context, params map[string]string, deps map[string]Outputs, store Store, fanOut FanOutFunc) *TaskContext {
	if params == nil {
		params = map[string]string{}
	}
	if deps == nil {
		deps = map[string]Outputs{}
	}
	return &TaskContext{
		ctx:     ctx,
		params:  params,
		deps:    deps,
		store:   store,
		fanOut:  fanOut,
		exports: Outputs{},
	}
}

// Context returns the invocation context. It is cancelled when the
// attempt's timeout expires; bodies performing external work must
// honor it.
func (tc *TaskContext) Context() context.Context {
	return tc.ctx
}

// Param returns the named parameter, or "" if absent.
func (tc *TaskContext) Param(name string) string {
	return tc.params[name]
}

// Params returns the full parameter map. Callers must not mutate it.
func (tc *TaskContext) Params() map[string]string {
	return tc.params
}

// Dep returns the outputs of the named dependency. Dependencies that
// were skipped contribute an empty map.
func (tc *TaskContext) Dep(name string) Outputs {
	if out, ok := tc.deps[name]; ok {
		return out
	}
	return Outputs{}
}

// Deps returns all dependency outputs keyed by task name.
func (tc *TaskContext) Deps() map[string]Outputs {
	return tc.deps
}

// State returns the shared store, or nil when the workflow runs
// without one.
func (tc *TaskContext) State() Store {
	return tc.store
}

// Export records a named value in the invocation's export buffer.
// Exports are merged into the result's outputs after the body returns
// and take precedence over returned outputs on key conflict.
func (tc *TaskContext) Export(name string, value any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.exports[name] = value
}

// Exports returns a snapshot of the export buffer.
func (tc *TaskContext) Exports() Outputs {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	snapshot := make(Outputs, len(tc.exports))
	for k, v := range tc.exports {
		snapshot[k] = v
	}
	return snapshot
}

// Parallel runs fns concurrently through the engine's async worker
// pool and blocks until all finish, returning the first error. Only
// tasks declared async may fan out; everything else gets ErrNotAsync.
func (tc *TaskContext) Parallel(fns ...func(context.Context) error) error {
	if tc.fanOut == nil {
		return ErrNotAsync
	}
	if len(fns) == 0 {
		return nil
	}
	return tc.fanOut(tc.ctx, fns)
}

// MergeOutputs applies the export-wins merge rule: keys from exports
// override keys from returned, non-conflicting keys from both survive.
func MergeOutputs(returned, exports Outputs) Outputs {
	merged := make(Outputs, len(returned)+len(exports))
	for k, v := range returned {
		merged[k] = v
	}
	for k, v := range exports {
		merged[k] = v
	}
	return merged
}
