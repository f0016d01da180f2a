package engine

import (
	"sort"

	"github.com/taskforge/taskforge/types"
)

// TaskGraph owns the validated task set of one workflow. The
// dependency relation is guaranteed acyclic and fully resolved: every
// declared dependency names a task in the same graph.
type TaskGraph struct {
	tasks      map[string]*types.Task
	names      []string            // sorted, for deterministic iteration
	dependents map[string][]string // reverse edges
	order      []string            // deterministic topological order
}

// BuildGraph validates the declared dependencies and constructs the
// graph. It fails fast with CycleError (carrying the full cycle path)
// or UnknownDependencyError; no run starts on a build error.
func BuildGraph(tasks []types.Task) (*TaskGraph, error) {
	g := &TaskGraph{
		tasks:      make(map[string]*types.Task, len(tasks)),
		dependents: make(map[string][]string),
	}

	for i := range tasks {
		t := &tasks[i]
		if t.Name == "" {
			return nil, types.NewError(types.ErrCodeDuplicateTask, "task with empty name")
		}
		if _, exists := g.tasks[t.Name]; exists {
			return nil, types.NewError(types.ErrCodeDuplicateTask, "duplicate task name "+t.Name)
		}
		g.tasks[t.Name] = t
		g.names = append(g.names, t.Name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		t := g.tasks[name]
		for _, dep := range t.DependsOn {
			if dep == name {
				return nil, &types.CycleError{Cycle: []string{name, name}}
			}
			if _, ok := g.tasks[dep]; !ok {
				return nil, &types.UnknownDependencyError{Task: name, Missing: dep}
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// topoSort produces a deterministic dependency-first ordering and
// detects cycles via DFS with an in-progress stack. A node found on
// the stack closes a cycle; the full path is reported for debugging.
func (g *TaskGraph) topoSort() ([]string, error) {
	visited := make(map[string]bool, len(g.tasks))
	onStack := make(map[string]bool, len(g.tasks))
	var stack []string
	var order []string

	var visit func(name string) *types.CycleError
	visit = func(name string) *types.CycleError {
		if onStack[name] {
			// Slice the stack from the first occurrence to report the
			// whole cycle, first node repeated at the end.
			for i, n := range stack {
				if n == name {
					cycle := append(append([]string{}, stack[i:]...), name)
					return &types.CycleError{Cycle: cycle}
				}
			}
			return &types.CycleError{Cycle: []string{name, name}}
		}
		if visited[name] {
			return nil
		}
		visited[name] = true
		onStack[name] = true
		stack = append(stack, name)

		deps := append([]string{}, g.tasks[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		onStack[name] = false
		order = append(order, name)
		return nil
	}

	for _, name := range g.names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// Task returns the named task.
func (g *TaskGraph) Task(name string) (*types.Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	return len(g.tasks)
}

// Names returns all task names in sorted order.
func (g *TaskGraph) Names() []string {
	return g.names
}

// TopoOrder returns a deterministic dependency-first ordering.
func (g *TaskGraph) TopoOrder() []string {
	return g.order
}

// Dependencies returns the declared dependency names of a task.
func (g *TaskGraph) Dependencies(name string) []string {
	if t, ok := g.tasks[name]; ok {
		return t.DependsOn
	}
	return nil
}

// Dependents returns the tasks that declare name as a dependency.
func (g *TaskGraph) Dependents(name string) []string {
	return g.dependents[name]
}

// ReadySet returns, in sorted order, the tasks eligible to start:
// not yet started, and with every dependency succeeded — or, for
// always_run tasks, every dependency merely resolved to any terminal
// state regardless of outcome.
func (g *TaskGraph) ReadySet(succeeded, failed, skipped, started map[string]bool) []string {
	var ready []string
	for _, name := range g.names {
		if started[name] || succeeded[name] || failed[name] || skipped[name] {
			continue
		}
		t := g.tasks[name]
		eligible := true
		for _, dep := range t.DependsOn {
			if t.AlwaysRun {
				if !succeeded[dep] && !failed[dep] && !skipped[dep] {
					eligible = false
					break
				}
			} else if !succeeded[dep] {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, name)
		}
	}
	return ready
}
