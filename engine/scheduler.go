package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/taskforge/taskforge/internal/metrics"
	"github.com/taskforge/taskforge/internal/pool"
	"github.com/taskforge/taskforge/resource"
	"github.com/taskforge/taskforge/types"
)

// TaskState is the lifecycle state of one task within a run.
type TaskState int

const (
	// TaskPending means unresolved dependencies remain.
	TaskPending TaskState = iota
	// TaskReady means all dependencies resolved and dispatch is imminent.
	TaskReady
	// TaskRunning means a worker goroutine holds the task.
	TaskRunning
	// TaskSucceeded is terminal: the task settled with a success result.
	TaskSucceeded
	// TaskFailed is terminal: attempts exhausted or a fatal rejection.
	TaskFailed
	// TaskSkipped is terminal: the task never ran (failed dependency,
	// false run_if guard, or fail-fast cascade).
	TaskSkipped
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state admits no further transition.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}

// ExecutionRecord is the per-task trace a run produces.
type ExecutionRecord struct {
	Name       string       `json:"name"`
	State      TaskState    `json:"state"`
	Attempts   int          `json:"attempts"`
	Result     types.Result `json:"result"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// Duration is the wall-clock span between dispatch and settlement,
// zero for tasks that never started.
func (r *ExecutionRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SchedulerConfig bounds one run's concurrency and failure policy.
type SchedulerConfig struct {
	// MaxParallel caps simultaneously running tasks. Values below 1
	// are treated as 1.
	MaxParallel int
	// FailFast stops dispatching new tasks after the first failure.
	// Already-running tasks finish; everything still pending is
	// skipped (always_run tasks excepted).
	FailFast bool
	// DispatchPerSecond throttles task dispatch. Zero disables the
	// limiter.
	DispatchPerSecond float64
	// AsyncWorkers sizes the fan-out pool backing TaskContext.Parallel.
	AsyncWorkers int
	// CleanupOnFailure runs saga compensations of already-succeeded
	// tasks when the run fails.
	CleanupOnFailure bool
	// Env is exposed to run_if guards under the env scope.
	Env map[string]any
}

// RunOutcome summarizes one scheduler run.
type RunOutcome struct {
	// Success is true when no task failed. Skipped tasks do not count
	// against success.
	Success bool
	// Records holds the per-task trace, one entry per graph node.
	Records map[string]*ExecutionRecord
	// Outputs holds the merged outputs of every succeeded task.
	Outputs map[string]types.Outputs
	// CompensationErrs collects saga compensation failures. They are
	// reported, never re-raised into the run result.
	CompensationErrs []error
}

// Scheduler walks a task graph, dispatching every task whose
// dependencies are resolved, bounded by the configured parallelism.
// A single event loop owns all state transitions; worker goroutines
// only execute task bodies and report back over the event channel.
type Scheduler struct {
	graph    *TaskGraph
	cfg      SchedulerConfig
	executor *Executor
	store    types.Store
	ledger   *resource.Ledger
	breakers *BreakerRegistry
	pool     *pool.Pool
	logger   *zap.Logger
	mc       *metrics.Collector
}

// NewScheduler assembles a scheduler for one graph. Store, ledger, and
// breakers may be nil when the workflow declares no use for them.
func NewScheduler(graph *TaskGraph, cfg SchedulerConfig, executor *Executor, store types.Store, ledger *resource.Ledger, breakers *BreakerRegistry, logger *zap.Logger, mc *metrics.Collector) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.AsyncWorkers < 1 {
		cfg.AsyncWorkers = pool.DefaultConfig().Workers
	}
	if executor == nil {
		executor = NewExecutor(logger, mc)
	}
	return &Scheduler{
		graph:    graph,
		cfg:      cfg,
		executor: executor,
		store:    store,
		ledger:   ledger,
		breakers: breakers,
		logger:   logger.With(zap.String("component", "scheduler")),
		mc:       mc,
	}
}

type eventKind int

const (
	evStarted eventKind = iota
	evDone
)

type taskEvent struct {
	kind   eventKind
	name   string
	result types.Result
}

// Run executes the graph to completion and returns the per-task trace.
// The returned error is reserved for run-level faults (context expiry
// with work outstanding); individual task failures live in the records.
func (s *Scheduler) Run(ctx context.Context) (*RunOutcome, error) {
	n := s.graph.Len()
	records := make(map[string]*ExecutionRecord, n)
	for _, name := range s.graph.Names() {
		records[name] = &ExecutionRecord{Name: name, State: TaskPending}
	}

	succeeded := make(map[string]bool, n)
	failed := make(map[string]bool)
	skipped := make(map[string]bool)
	started := make(map[string]bool)
	outputs := make(map[string]types.Outputs, n)
	var completionOrder []string

	events := make(chan taskEvent, 2*n+2)
	sem := semaphore.NewWeighted(int64(s.cfg.MaxParallel))
	var limiter *rate.Limiter
	if s.cfg.DispatchPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.DispatchPerSecond), 1)
	}

	asyncPool := pool.New(pool.Config{Workers: s.cfg.AsyncWorkers, QueueSize: 2 * s.cfg.AsyncWorkers})
	defer asyncPool.Close()
	s.pool = asyncPool

	active := 0
	tripped := false

	terminal := func() int { return len(succeeded) + len(failed) + len(skipped) }

	for terminal() < n || active > 0 {
		if tripped {
			s.skipPending(records, started, succeeded, failed, skipped, "fail-fast after upstream failure")
		}
		s.cascadeSkips(records, started, succeeded, failed, skipped)

		progressed := false
		for _, name := range s.graph.ReadySet(succeeded, failed, skipped, started) {
			task, _ := s.graph.Task(name)
			if tripped && !task.AlwaysRun {
				continue
			}
			deps := s.depsSnapshot(name, outputs)

			if task.RunIf != "" {
				run, err := EvalCondition(task.RunIf, conditionVars(task, deps, s.cfg.Env))
				if err != nil {
					failed[name] = true
					rec := records[name]
					rec.State = TaskFailed
					rec.FinishedAt = time.Now()
					rec.Result = types.Fail("invalid run_if expression",
						types.NewError(types.ErrCodeTaskFailure, err.Error()).WithRetryable(false))
					s.logger.Error("run_if evaluation failed",
						zap.String("task", name), zap.Error(err))
					if s.cfg.FailFast {
						tripped = true
					}
					progressed = true
					continue
				}
				if !run {
					skipped[name] = true
					progressed = true
					rec := records[name]
					rec.State = TaskSkipped
					rec.FinishedAt = time.Now()
					rec.Result = types.Succeed("skipped: run_if evaluated to false", nil)
					s.logger.Info("task skipped by run_if",
						zap.String("task", name), zap.String("run_if", task.RunIf))
					continue
				}
			}

			started[name] = true
			records[name].State = TaskReady
			active++
			go s.runTask(ctx, task, deps, limiter, sem, events)
		}

		if terminal() >= n && active == 0 {
			break
		}
		if active == 0 {
			if progressed {
				// run_if settled tasks this pass; let the cascade
				// resolve their dependents before waiting for events.
				continue
			}
			// Nothing running, nothing dispatchable, no progress. The
			// cascade settles every reachable task, so this is
			// unreachable for a valid graph; bail out rather than spin.
			return nil, types.NewError(types.ErrCodeTaskFailure,
				fmt.Sprintf("scheduler stalled with %d unresolved tasks", n-terminal()))
		}

		ev := <-events
		rec := records[ev.name]
		switch ev.kind {
		case evStarted:
			rec.State = TaskRunning
			rec.StartedAt = time.Now()
		case evDone:
			active--
			rec.FinishedAt = time.Now()
			rec.Result = ev.result
			rec.Attempts = ev.result.Attempts
			if ev.result.OK {
				rec.State = TaskSucceeded
				succeeded[ev.name] = true
				outputs[ev.name] = ev.result.Outputs
				completionOrder = append(completionOrder, ev.name)
			} else {
				rec.State = TaskFailed
				failed[ev.name] = true
				s.logger.Error("task failed",
					zap.String("task", ev.name),
					zap.Int("attempts", ev.result.Attempts),
					zap.Error(ev.result.Err))
				if s.cfg.FailFast {
					tripped = true
				}
			}
		}
	}

	outcome := &RunOutcome{
		Success: len(failed) == 0,
		Records: records,
		Outputs: outputs,
	}

	if !outcome.Success && s.cfg.CleanupOnFailure {
		outcome.CompensationErrs = s.compensate(ctx, completionOrder, outputs)
	}

	if err := ctx.Err(); err != nil && !outcome.Success {
		return outcome, err
	}
	return outcome, nil
}

// cascadeSkips marks pending tasks whose dependencies can no longer
// all succeed. Runs to a fixpoint so chains of dependents settle in
// one pass. always_run tasks are exempt.
func (s *Scheduler) cascadeSkips(records map[string]*ExecutionRecord, started, succeeded, failed, skipped map[string]bool) {
	for changed := true; changed; {
		changed = false
		for _, name := range s.graph.TopoOrder() {
			if started[name] || succeeded[name] || failed[name] || skipped[name] {
				continue
			}
			task, _ := s.graph.Task(name)
			if task.AlwaysRun {
				continue
			}
			for _, dep := range s.graph.Dependencies(name) {
				if failed[dep] || skipped[dep] {
					skipped[name] = true
					rec := records[name]
					rec.State = TaskSkipped
					rec.FinishedAt = time.Now()
					rec.Result = types.Succeed(
						fmt.Sprintf("skipped: dependency %s did not succeed", dep), nil)
					s.logger.Info("task skipped",
						zap.String("task", name), zap.String("dependency", dep))
					changed = true
					break
				}
			}
		}
	}
}

// skipPending marks every unstarted task skipped after a fail-fast
// trip. always_run tasks with resolved dependencies still run.
func (s *Scheduler) skipPending(records map[string]*ExecutionRecord, started, succeeded, failed, skipped map[string]bool, reason string) {
	for _, name := range s.graph.Names() {
		if started[name] || succeeded[name] || failed[name] || skipped[name] {
			continue
		}
		if task, _ := s.graph.Task(name); task.AlwaysRun {
			continue
		}
		skipped[name] = true
		rec := records[name]
		rec.State = TaskSkipped
		rec.FinishedAt = time.Now()
		rec.Result = types.Succeed("skipped: "+reason, nil)
	}
}

// depsSnapshot captures the outputs visible to a task at dispatch.
// Every declared dependency gets an entry; skipped dependencies of
// always_run tasks contribute an empty map.
func (s *Scheduler) depsSnapshot(name string, outputs map[string]types.Outputs) map[string]types.Outputs {
	deps := s.graph.Dependencies(name)
	snapshot := make(map[string]types.Outputs, len(deps))
	for _, dep := range deps {
		if out, ok := outputs[dep]; ok {
			snapshot[dep] = out
		} else {
			snapshot[dep] = types.Outputs{}
		}
	}
	return snapshot
}

// runTask is the worker goroutine body: throttle, acquire a
// parallelism slot, reserve resources, execute, release, fire hooks,
// and report the settled result to the event loop.
func (s *Scheduler) runTask(ctx context.Context, task *types.Task, deps map[string]types.Outputs, limiter *rate.Limiter, sem *semaphore.Weighted, events chan<- taskEvent) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			events <- taskEvent{kind: evDone, name: task.Name, result: types.Fail("run cancelled before dispatch", err)}
			return
		}
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		events <- taskEvent{kind: evDone, name: task.Name, result: types.Fail("run cancelled before dispatch", err)}
		return
	}
	defer sem.Release(1)

	events <- taskEvent{kind: evStarted, name: task.Name}
	startedAt := time.Now()

	allocations, err := s.allocateResources(ctx, task)
	if err != nil {
		result := types.Fail("resource allocation failed", err)
		result.Attempts = 0
		s.finishTask(task, result, startedAt)
		events <- taskEvent{kind: evDone, name: task.Name, result: result}
		return
	}

	inv := Invocation{
		Task:  task,
		Deps:  deps,
		Store: s.store,
	}
	if task.Async {
		inv.FanOut = s.fanOut
	}
	if task.CircuitName != "" && s.breakers != nil {
		inv.Breaker = s.breakers.GetOrCreate(task.CircuitName)
	}

	result := s.executor.Execute(ctx, inv)

	s.releaseResources(task.Name, allocations)
	s.finishTask(task, result, startedAt)
	events <- taskEvent{kind: evDone, name: task.Name, result: result}
}

// finishTask records metrics and fires the task's hooks synchronously,
// before the done event releases any dependent.
func (s *Scheduler) finishTask(task *types.Task, result types.Result, startedAt time.Time) {
	status := "succeeded"
	hook := task.OnSuccess
	if !result.OK {
		status = "failed"
		hook = task.OnFailure
	}
	s.mc.ObserveTask(task.Name, status, time.Since(startedAt))
	if hook != nil {
		hook(task.Name, result)
	}
}

func (s *Scheduler) allocateResources(ctx context.Context, task *types.Task) ([]*resource.Allocation, error) {
	if len(task.Resources) == 0 {
		return nil, nil
	}
	if s.ledger == nil {
		return nil, fmt.Errorf("task %s declares resources but no ledger is configured", task.Name)
	}
	allocations := make([]*resource.Allocation, 0, len(task.Resources))
	for _, req := range task.Resources {
		alloc, err := s.ledger.Allocate(ctx, req.Kind, req.Amount)
		if err != nil {
			s.releaseResources(task.Name, allocations)
			return nil, err
		}
		allocations = append(allocations, alloc)
		s.mc.SetResourceInUse(req.Kind, s.ledger.InUse(req.Kind))
	}
	return allocations, nil
}

func (s *Scheduler) releaseResources(task string, allocations []*resource.Allocation) {
	for _, alloc := range allocations {
		if err := alloc.Release(); err != nil {
			s.logger.Error("resource release failed",
				zap.String("task", task),
				zap.String("kind", alloc.Kind()),
				zap.Error(err))
			continue
		}
		s.mc.SetResourceInUse(alloc.Kind(), s.ledger.InUse(alloc.Kind()))
	}
}

// fanOut backs TaskContext.Parallel for async tasks: every function
// runs through the shared worker pool, failures cancel the siblings.
func (s *Scheduler) fanOut(ctx context.Context, fns []func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			return s.pool.Run(gctx, pool.Job(fn))
		})
	}
	return g.Wait()
}

// compensate invokes the Compensate body of every succeeded task, in
// reverse completion order, detached from the run context so cleanup
// survives cancellation. Best effort: errors are collected, logged,
// and never fail the compensation of earlier tasks.
func (s *Scheduler) compensate(ctx context.Context, completionOrder []string, outputs map[string]types.Outputs) []error {
	var errs []error
	base := context.WithoutCancel(ctx)
	for i := len(completionOrder) - 1; i >= 0; i-- {
		name := completionOrder[i]
		task, ok := s.graph.Task(name)
		if !ok || task.Compensate == nil {
			continue
		}
		s.logger.Info("running compensation", zap.String("task", name))

		deps := s.depsSnapshot(name, outputs)
		deps[name] = outputs[name]
		cctx, cancel := context.WithTimeout(base, compensationTimeout(task))
		tc := types.NewTaskContext(cctx, task.Params, deps, s.store, nil)

		result := runCompensation(task.Compensate, tc)
		cancel()
		if !result.OK {
			err := &types.SagaCompensationError{Task: name, Errs: []error{result.Err}}
			errs = append(errs, err)
			s.logger.Error("compensation failed",
				zap.String("task", name), zap.Error(result.Err))
		}
	}
	return errs
}

func runCompensation(cmd types.Command, tc *types.TaskContext) (result types.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = types.Fail("compensation panicked",
				types.NewError(types.ErrCodeTaskFailure, fmt.Sprintf("panic: %v", r)))
		}
	}()
	return cmd(tc)
}

func compensationTimeout(task *types.Task) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return time.Minute
}

// SortedRecords returns the records ordered by task name, for stable
// report rendering.
func (o *RunOutcome) SortedRecords() []*ExecutionRecord {
	records := make([]*ExecutionRecord, 0, len(o.Records))
	for _, rec := range o.Records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}
