package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/engine"
	"github.com/taskforge/taskforge/types"
)

func testRegistry() *CommandRegistry {
	reg := NewCommandRegistry()
	reg.Register("echo", func(tc *types.TaskContext) types.Result {
		return types.Succeed("echo", types.Outputs{"message": tc.Param("message")})
	})
	reg.Register("noop", func(tc *types.TaskContext) types.Result {
		return types.Succeed("noop", nil)
	})
	reg.Register("undo", func(tc *types.TaskContext) types.Result {
		return types.Succeed("undone", nil)
	})
	return reg
}

const descriptorYAML = `
name: release
description: build and ship
version: "1.4"
config:
  timeout: 2m
  max_parallel_tasks: 3
  fail_fast: true
  cleanup_on_failure: true
  retry_policy:
    max_attempts: 3
    backoff: exponential
    base_interval: 100ms
    max_interval: 2s
tasks:
  - name: build
    command: echo
    params:
      message: building
    timeout: 30s
    resources:
      - kind: cpu
        amount: 2
  - name: push
    command: noop
    depends_on: [build]
    compensate: undo
    circuit: registry-api
    retries:
      max_attempts: 5
      backoff: linear
      base_interval: 50ms
  - name: notify
    command: noop
    depends_on: [push]
    always_run: true
    run_if: 'params.channel != ""'
    params:
      channel: "#deploys"
`

func TestLoadWorkflow(t *testing.T) {
	t.Parallel()

	wf, err := LoadWorkflow([]byte(descriptorYAML), testRegistry())
	require.NoError(t, err)

	assert.Equal(t, "release", wf.Name)
	assert.Equal(t, "1.4", wf.Version)
	assert.Equal(t, 2*time.Minute, wf.Config.Timeout)
	assert.Equal(t, 3, wf.Config.MaxParallelTasks)
	assert.True(t, wf.Config.FailFast)
	assert.True(t, wf.Config.CleanupOnFailure)
	assert.Equal(t, 3, wf.Config.RetryPolicy.MaxAttempts)
	assert.Equal(t, types.BackoffExponential, wf.Config.RetryPolicy.Backoff)
	assert.Equal(t, 100*time.Millisecond, wf.Config.RetryPolicy.BaseInterval)

	require.Len(t, wf.Tasks, 3)

	build := wf.Tasks[0]
	assert.Equal(t, "build", build.Name)
	assert.NotNil(t, build.Command)
	assert.Equal(t, 30*time.Second, build.Timeout)
	require.Len(t, build.Resources, 1)
	assert.Equal(t, int64(2), build.Resources[0].Amount)

	push := wf.Tasks[1]
	assert.Equal(t, []string{"build"}, push.DependsOn)
	assert.NotNil(t, push.Compensate)
	assert.Equal(t, "registry-api", push.CircuitName)
	assert.Equal(t, 5, push.Retry.MaxAttempts)
	assert.Equal(t, types.BackoffLinear, push.Retry.Backoff)

	notify := wf.Tasks[2]
	assert.True(t, notify.AlwaysRun)
	assert.NotEmpty(t, notify.RunIf)
}

func TestLoadWorkflow_UnknownCommand(t *testing.T) {
	t.Parallel()

	_, err := LoadWorkflow([]byte(`
name: broken
tasks:
  - name: a
    command: does-not-exist
`), testRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestLoadWorkflow_UnknownCompensation(t *testing.T) {
	t.Parallel()

	_, err := LoadWorkflow([]byte(`
name: broken
tasks:
  - name: a
    command: noop
    compensate: missing-undo
`), testRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-undo")
}

func TestLoadWorkflow_Rejections(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no name":     "tasks:\n  - name: a\n    command: noop\n",
		"no tasks":    "name: empty\n",
		"nameless":    "name: w\ntasks:\n  - command: noop\n",
		"bad backoff": "name: w\ntasks:\n  - name: a\n    command: noop\n    retries:\n      max_attempts: 2\n      backoff: fibonacci\n",
		"bad yaml":    "name: [unclosed\n",
	}
	for name, doc := range cases {
		_, err := LoadWorkflow([]byte(doc), testRegistry())
		assert.Error(t, err, name)
	}
}

func TestLoadWorkflow_DefaultsWhenConfigOmitted(t *testing.T) {
	t.Parallel()

	wf, err := LoadWorkflow([]byte(`
name: minimal
tasks:
  - name: only
    command: noop
`), testRegistry())
	require.NoError(t, err)

	defaults := types.DefaultWorkflowConfig()
	assert.Equal(t, defaults.Timeout, wf.Config.Timeout)
	assert.Equal(t, defaults.MaxParallelTasks, wf.Config.MaxParallelTasks)
	assert.Equal(t, defaults.RetryPolicy, wf.Config.RetryPolicy)
}

// Loaded descriptors must run end to end.
func TestLoadWorkflow_RunsThroughEngine(t *testing.T) {
	t.Parallel()

	wf, err := LoadWorkflow([]byte(descriptorYAML), testRegistry())
	require.NoError(t, err)

	// No ledger configured in this test; drop the resource request.
	wf.Tasks[0].Resources = nil

	runner := engine.NewRunner()
	report, err := runner.Run(context.Background(), wf)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, "building", report.Results["build"].Outputs["message"])
}
