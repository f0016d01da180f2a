package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/types"
)

func TestEvalCondition(t *testing.T) {
	t.Parallel()

	vars := map[string]any{
		"params": map[string]any{
			"region": "eu-west-1",
			"count":  "3",
		},
		"outputs": map[string]any{
			"build": map[string]any{
				"ok":    true,
				"score": 0.92,
			},
		},
		"env": map[string]any{
			"dry_run": false,
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"true", true},
		{"false", false},
		{"!false", true},
		{`params.region == "eu-west-1"`, true},
		{`params.region != "us-east-1"`, true},
		{"params.count >= 3", true},
		{"params.count > 3", false},
		{"outputs.build.ok", true},
		{"outputs.build.score > 0.9", true},
		{"outputs.build.score > 0.9 && !env.dry_run", true},
		{`outputs.build.score < 0.5 || params.region == "eu-west-1"`, true},
		{`(params.count > 5 || outputs.build.ok) && true`, true},
		{"outputs.missing.value == 1", false},
		{"outputs.missing.value != 1", true},
		{"-1 < 0", true},
	}

	for _, tc := range cases {
		got, err := EvalCondition(tc.expr, vars)
		require.NoError(t, err, "expr %q", tc.expr)
		assert.Equal(t, tc.want, got, "expr %q", tc.expr)
	}
}

func TestEvalCondition_Errors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		`"unterminated`,
		"params.region ==",
		"(true",
		"true true",
		"a @ b",
		"a = b",
	} {
		_, err := EvalCondition(expr, nil)
		assert.Error(t, err, "expr %q", expr)
	}
}

func TestEvalCondition_NilComparisons(t *testing.T) {
	t.Parallel()

	got, err := EvalCondition("missing == missing", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalCondition("missing < 1", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestConditionVars(t *testing.T) {
	t.Parallel()

	task := &types.Task{
		Name:   "deploy",
		Params: map[string]string{"target": "prod"},
	}
	deps := map[string]types.Outputs{
		"build": {"artifact": "app.tar.gz"},
	}

	vars := conditionVars(task, deps, map[string]any{"ci": true})

	got, err := EvalCondition(`params.target == "prod" && outputs.build.artifact == "app.tar.gz" && env.ci`, vars)
	require.NoError(t, err)
	assert.True(t, got)
}
