package config

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskforge/taskforge/types"
)

// CommandRegistry maps descriptor command names to executable bodies.
// Descriptors reference commands by name; the registry resolves them
// at load time so a typo fails the load, not the run.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]types.Command
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]types.Command)}
}

// Register binds a command body to a name, replacing any previous
// binding.
func (r *CommandRegistry) Register(name string, cmd types.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = cmd
}

// Get returns the named command.
func (r *CommandRegistry) Get(name string) (types.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names lists registered command names in sorted order.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// duration accepts Go duration strings ("30s", "5m") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

type workflowSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Version     string         `yaml:"version"`
	Metadata    map[string]any `yaml:"metadata"`
	Config      configSpec     `yaml:"config"`
	Tasks       []taskSpec     `yaml:"tasks"`
}

type configSpec struct {
	Timeout           duration  `yaml:"timeout"`
	RetryPolicy       retrySpec `yaml:"retry_policy"`
	MaxParallelTasks  int       `yaml:"max_parallel_tasks"`
	CleanupOnFailure  bool      `yaml:"cleanup_on_failure"`
	FailFast          bool      `yaml:"fail_fast"`
	DispatchPerSecond float64   `yaml:"dispatch_per_second"`
}

type retrySpec struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	Backoff      string   `yaml:"backoff"`
	BaseInterval duration `yaml:"base_interval"`
	MaxInterval  duration `yaml:"max_interval"`
}

type taskSpec struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	Command     string                  `yaml:"command"`
	DependsOn   []string                `yaml:"depends_on"`
	Params      map[string]string       `yaml:"params"`
	Timeout     duration                `yaml:"timeout"`
	Retries     retrySpec               `yaml:"retries"`
	AlwaysRun   bool                    `yaml:"always_run"`
	Async       bool                    `yaml:"async"`
	RunIf       string                  `yaml:"run_if"`
	Resources   []types.ResourceRequest `yaml:"resources"`
	Circuit     string                  `yaml:"circuit"`
	Security    types.SecurityPolicy    `yaml:"security"`
	Compensate  string                  `yaml:"compensate"`
}

// LoadWorkflow parses a YAML workflow descriptor, resolving command
// names through the registry. Unknown commands, missing task names,
// and invalid backoff kinds fail the load.
func LoadWorkflow(data []byte, registry *CommandRegistry) (*types.Workflow, error) {
	var spec workflowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse workflow descriptor: %w", err)
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("workflow descriptor has no name")
	}
	if len(spec.Tasks) == 0 {
		return nil, fmt.Errorf("workflow %s declares no tasks", spec.Name)
	}

	wf := &types.Workflow{
		Name:        spec.Name,
		Description: spec.Description,
		Version:     spec.Version,
		Metadata:    spec.Metadata,
		Config:      types.DefaultWorkflowConfig(),
		Tasks:       make([]types.Task, 0, len(spec.Tasks)),
	}
	if spec.Config.Timeout > 0 {
		wf.Config.Timeout = time.Duration(spec.Config.Timeout)
	}
	if spec.Config.MaxParallelTasks > 0 {
		wf.Config.MaxParallelTasks = spec.Config.MaxParallelTasks
	}
	wf.Config.CleanupOnFailure = spec.Config.CleanupOnFailure
	wf.Config.FailFast = spec.Config.FailFast
	wf.Config.DispatchPerSecond = spec.Config.DispatchPerSecond
	if policy, err := buildRetryPolicy(spec.Config.RetryPolicy); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", spec.Name, err)
	} else if !policy.IsZero() {
		wf.Config.RetryPolicy = policy
	}

	for _, ts := range spec.Tasks {
		if ts.Name == "" {
			return nil, fmt.Errorf("workflow %s contains a task without a name", spec.Name)
		}
		task := types.Task{
			Name:        ts.Name,
			Description: ts.Description,
			DependsOn:   ts.DependsOn,
			Params:      ts.Params,
			Timeout:     time.Duration(ts.Timeout),
			AlwaysRun:   ts.AlwaysRun,
			Async:       ts.Async,
			RunIf:       ts.RunIf,
			Resources:   ts.Resources,
			CircuitName: ts.Circuit,
			Security:    ts.Security,
		}
		policy, err := buildRetryPolicy(ts.Retries)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", ts.Name, err)
		}
		task.Retry = policy

		if ts.Command != "" {
			cmd, ok := registry.Get(ts.Command)
			if !ok {
				return nil, fmt.Errorf("task %s references unknown command %q", ts.Name, ts.Command)
			}
			task.Command = cmd
		}
		if ts.Compensate != "" {
			cmd, ok := registry.Get(ts.Compensate)
			if !ok {
				return nil, fmt.Errorf("task %s references unknown compensation command %q", ts.Name, ts.Compensate)
			}
			task.Compensate = cmd
		}
		wf.Tasks = append(wf.Tasks, task)
	}
	return wf, nil
}

// LoadWorkflowFile reads and parses a workflow descriptor file.
func LoadWorkflowFile(path string, registry *CommandRegistry) (*types.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow descriptor: %w", err)
	}
	return LoadWorkflow(data, registry)
}

func buildRetryPolicy(spec retrySpec) (types.RetryPolicy, error) {
	policy := types.RetryPolicy{
		MaxAttempts:  spec.MaxAttempts,
		BaseInterval: time.Duration(spec.BaseInterval),
		MaxInterval:  time.Duration(spec.MaxInterval),
	}
	switch spec.Backoff {
	case "":
	case string(types.BackoffNone), string(types.BackoffLinear), string(types.BackoffExponential):
		policy.Backoff = types.BackoffKind(spec.Backoff)
	default:
		return policy, fmt.Errorf("unknown backoff kind %q", spec.Backoff)
	}
	return policy, nil
}
