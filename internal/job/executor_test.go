package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/stage"
)

func TestEvaluateTriggerRuleVariants(t *testing.T) {
	cases := []struct {
		rule     TriggerRule
		upstream []ctxdata.Status
		want     bool
	}{
		{TriggerAllSuccess, []ctxdata.Status{ctxdata.SUCCESS, ctxdata.SUCCESS}, true},
		{TriggerAllSuccess, []ctxdata.Status{ctxdata.SUCCESS, ctxdata.FAILED}, false},
		{TriggerAnyFailed, []ctxdata.Status{ctxdata.SUCCESS, ctxdata.FAILED}, true},
		{TriggerNoneFailed, []ctxdata.Status{ctxdata.SUCCESS, ctxdata.SKIP}, true},
		{TriggerNoneSkipped, []ctxdata.Status{ctxdata.SUCCESS, ctxdata.SKIP}, false},
		{TriggerAllDone, []ctxdata.Status{ctxdata.FAILED, ctxdata.SKIP}, true},
	}
	for _, c := range cases {
		got := EvaluateTriggerRule(c.rule, c.upstream)
		require.Equal(t, c.want, got, "%s over %v", c.rule, c.upstream)
	}
}

func TestExecutorRunsStagesPerItem(t *testing.T) {
	d := stage.NewDispatcher()
	e := NewExecutor(d)

	spec := Spec{
		ID: "build",
		Strategy: Strategy{
			Matrix: map[string][]interface{}{"n": {int64(1), int64(2)}},
		},
		Stages: []stage.Spec{
			{Name: "echo", Kind: stage.KindEmpty, Echo: "${{ matrix.n }}"},
		},
	}

	res := e.Execute(context.Background(), spec, nil, map[string]interface{}{})
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.Len(t, res.Items, 2)
}

func TestExecutorSkipsWhenTriggerRuleFails(t *testing.T) {
	d := stage.NewDispatcher()
	e := NewExecutor(d)

	spec := Spec{ID: "deploy", TriggerRule: TriggerAllSuccess, Stages: []stage.Spec{{Name: "x", Kind: stage.KindEmpty}}}
	res := e.Execute(context.Background(), spec, []ctxdata.Status{ctxdata.FAILED}, map[string]interface{}{})
	require.True(t, res.Skipped)
	require.Equal(t, ctxdata.SKIP, res.Status)
}

func TestExecutorFailFastCancelsSiblings(t *testing.T) {
	d := stage.NewDispatcher()
	e := NewExecutor(d)

	spec := Spec{
		ID: "matrix-fail",
		Strategy: Strategy{
			Matrix:   map[string][]interface{}{"n": {int64(1), int64(2), int64(3)}},
			FailFast: true,
		},
		Stages: []stage.Spec{
			{Name: "maybe-fail", Kind: stage.KindFail, If: "matrix.n == 2", Message: "boom"},
		},
	}

	res := e.Execute(context.Background(), spec, nil, map[string]interface{}{})
	require.Equal(t, ctxdata.FAILED, res.Status)
}
