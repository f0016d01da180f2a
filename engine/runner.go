package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/metrics"
	"github.com/taskforge/taskforge/resource"
	"github.com/taskforge/taskforge/state"
	"github.com/taskforge/taskforge/types"
)

// TaskReport is the per-task slice of a RunReport.
type TaskReport struct {
	State    TaskState     `json:"state"`
	Message  string        `json:"message,omitempty"`
	Attempts int           `json:"attempts"`
	Outputs  types.Outputs `json:"outputs,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunReport is the aggregate outcome of one workflow run.
type RunReport struct {
	RunID    string                `json:"run_id"`
	Workflow string                `json:"workflow"`
	Success  bool                  `json:"success"`
	Results  map[string]TaskReport `json:"results"`
	Duration time.Duration         `json:"duration"`
	// CompensationErr aggregates saga compensation failures. It never
	// flips Success; cleanup problems are reported, not re-raised.
	CompensationErr error `json:"-"`
}

// Runner validates a workflow, applies config defaults, and drives it
// through a scheduler. A Runner is safe for concurrent Run calls; all
// per-run state lives in the scheduler it builds for each call.
type Runner struct {
	logger     *zap.Logger
	store      types.Store
	ledger     *resource.Ledger
	mc         *metrics.Collector
	breakerCfg BreakerConfig
	env        map[string]any
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithStore exposes a shared state store to every task.
func WithStore(store types.Store) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithLedger installs a resource ledger for tasks that declare
// resource requests.
func WithLedger(ledger *resource.Ledger) RunnerOption {
	return func(r *Runner) { r.ledger = ledger }
}

// WithMetrics installs a metrics collector.
func WithMetrics(mc *metrics.Collector) RunnerOption {
	return func(r *Runner) { r.mc = mc }
}

// WithBreakerConfig overrides the circuit breaker defaults applied to
// named circuits.
func WithBreakerConfig(cfg BreakerConfig) RunnerOption {
	return func(r *Runner) { r.breakerCfg = cfg }
}

// WithEnv exposes values to run_if guards under the env scope.
func WithEnv(env map[string]any) RunnerOption {
	return func(r *Runner) { r.env = env }
}

// NewRunner creates a workflow runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		breakerCfg: DefaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	return r
}

// Run executes the workflow and returns its report. Graph defects
// (cycles, unknown dependencies, duplicate names) and on_start
// rejections return an error alongside a report describing what never
// ran. Task failures do not: they are carried in the report with
// Success false.
func (r *Runner) Run(ctx context.Context, wf *types.Workflow) (*RunReport, error) {
	runID := uuid.NewString()
	logger := r.logger.With(
		zap.String("run_id", runID),
		zap.String("workflow", wf.Name))
	begin := time.Now()

	report := &RunReport{
		RunID:    runID,
		Workflow: wf.Name,
		Results:  make(map[string]TaskReport, len(wf.Tasks)),
	}

	cfg := wf.Config
	if cfg.MaxParallelTasks < 1 {
		cfg.MaxParallelTasks = 1
	}
	if cfg.RetryPolicy.IsZero() {
		cfg.RetryPolicy = types.DefaultRetryPolicy()
	}

	tasks := make([]types.Task, len(wf.Tasks))
	for i, task := range wf.Tasks {
		if task.Timeout == 0 {
			task.Timeout = cfg.Timeout
		}
		if task.Retry.IsZero() {
			task.Retry = cfg.RetryPolicy
		}
		tasks[i] = task
	}

	graph, err := BuildGraph(tasks)
	if err != nil {
		logger.Error("workflow rejected", zap.Error(err))
		return report, err
	}

	logger.Info("workflow starting",
		zap.Int("tasks", graph.Len()),
		zap.Int("max_parallel", cfg.MaxParallelTasks),
		zap.Bool("fail_fast", cfg.FailFast))

	if wf.OnStart != nil {
		if err := wf.OnStart(ctx); err != nil {
			logger.Error("on_start hook rejected the run", zap.Error(err))
			abortErr := types.NewError(types.ErrCodeRunAborted, "on_start hook failed").WithCause(err)
			for _, name := range graph.Names() {
				report.Results[name] = TaskReport{
					State:   TaskSkipped,
					Message: "skipped: run aborted by on_start hook",
				}
			}
			report.Duration = time.Since(begin)
			r.mc.ObserveRun(false, report.Duration)
			if wf.OnComplete != nil {
				wf.OnComplete(ctx, false, resultsByName(report))
			}
			return report, abortErr
		}
	}

	breakers := NewBreakerRegistry(r.breakerCfg, logger, r.mc)
	executor := NewExecutor(logger, r.mc)
	sched := NewScheduler(graph, SchedulerConfig{
		MaxParallel:       cfg.MaxParallelTasks,
		FailFast:          cfg.FailFast,
		DispatchPerSecond: cfg.DispatchPerSecond,
		CleanupOnFailure:  cfg.CleanupOnFailure,
		Env:               r.env,
	}, executor, state.Instrument(r.store, r.mc), r.ledger, breakers, logger, r.mc)

	outcome, runErr := sched.Run(ctx)
	if outcome != nil {
		report.Success = outcome.Success
		for name, rec := range outcome.Records {
			tr := TaskReport{
				State:    rec.State,
				Message:  rec.Result.Message,
				Attempts: rec.Attempts,
				Outputs:  rec.Result.Outputs,
				Duration: rec.Duration(),
			}
			if rec.Result.Err != nil {
				tr.Error = rec.Result.Err.Error()
			}
			report.Results[name] = tr
		}
		if len(outcome.CompensationErrs) > 0 {
			report.CompensationErr = &types.SagaCompensationError{
				Task: wf.Name,
				Errs: outcome.CompensationErrs,
			}
		}
	}
	report.Duration = time.Since(begin)

	r.mc.ObserveRun(report.Success, report.Duration)
	logger.Info("workflow finished",
		zap.Bool("success", report.Success),
		zap.Duration("duration", report.Duration))

	if wf.OnComplete != nil {
		wf.OnComplete(ctx, report.Success, resultsByName(report))
	}
	return report, runErr
}

// resultsByName converts the report into the Result map the
// on_complete hook receives.
func resultsByName(report *RunReport) map[string]types.Result {
	results := make(map[string]types.Result, len(report.Results))
	for name, tr := range report.Results {
		results[name] = types.Result{
			OK:       tr.State == TaskSucceeded,
			Message:  tr.Message,
			Outputs:  tr.Outputs,
			Attempts: tr.Attempts,
		}
	}
	return results
}
