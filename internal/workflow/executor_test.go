package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/job"
	"github.com/cloudshipai/workflow-core/internal/param"
	"github.com/cloudshipai/workflow-core/internal/stage"
)

func TestValidateRejectsUnknownNeeds(t *testing.T) {
	spec := Spec{Jobs: map[string]job.Spec{
		"a": {ID: "a", Needs: []string{"missing"}},
	}}
	require.Error(t, spec.Validate())
}

func TestValidateRejectsCycle(t *testing.T) {
	spec := Spec{Jobs: map[string]job.Spec{
		"a": {ID: "a", Needs: []string{"b"}},
		"b": {ID: "b", Needs: []string{"a"}},
	}}
	require.Error(t, spec.Validate())
}

func TestExecuteRunsDAGInDependencyOrder(t *testing.T) {
	spec := Spec{
		Name: "build-and-deploy",
		Params: map[string]param.Spec{
			"env": {Name: "env", Type: param.KindString, Default: "staging"},
		},
		Jobs: map[string]job.Spec{
			"build": {
				ID:     "build",
				Stages: []stage.Spec{{Name: "compile", Kind: stage.KindEmpty, Echo: "built"}},
			},
			"deploy": {
				ID:    "deploy",
				Needs: []string{"build"},
				Stages: []stage.Spec{
					{Name: "ship", Kind: stage.KindEmpty, Echo: "${{ params.env }}"},
				},
			},
		},
	}

	e := NewEngine()
	res, err := e.Execute(context.Background(), spec, map[string]interface{}{"env": "prod"}, Options{})
	require.NoError(t, err)
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.NotEmpty(t, res.RunID)

	jobs, _ := res.Context["jobs"].(map[string]interface{})
	require.Contains(t, jobs, "build")
	require.Contains(t, jobs, "deploy")
}

func TestExecuteSkipsDownstreamOnUpstreamFailure(t *testing.T) {
	spec := Spec{
		Jobs: map[string]job.Spec{
			"a": {ID: "a", Stages: []stage.Spec{{Name: "boom", Kind: stage.KindFail, Message: "x"}}},
			"b": {ID: "b", Needs: []string{"a"}, TriggerRule: job.TriggerAllSuccess, Stages: []stage.Spec{{Name: "noop", Kind: stage.KindEmpty}}},
		},
	}
	e := NewEngine()
	res, err := e.Execute(context.Background(), spec, map[string]interface{}{}, Options{})
	require.NoError(t, err)
	require.Equal(t, ctxdata.FAILED, res.Status)

	jobs, _ := res.Context["jobs"].(map[string]interface{})
	b, _ := jobs["b"].(map[string]interface{})
	require.Equal(t, string(ctxdata.SKIP), b["status"])
}
