package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/registry"
)

func TestExecuteStageSkipsWhenIfFalse(t *testing.T) {
	d := NewDispatcher()
	res := d.ExecuteStage(context.Background(), Spec{Name: "maybe", Kind: KindEmpty, If: "False"}, map[string]interface{}{})
	require.Equal(t, ctxdata.SKIP, res.Status)
}

func TestExecuteStageEmptyEcho(t *testing.T) {
	d := NewDispatcher()
	data := map[string]interface{}{"params": map[string]interface{}{"name": "abc"}}
	res := d.ExecuteStage(context.Background(), Spec{Name: "echo", Kind: KindEmpty, Echo: "${{ params.name | upper }}"}, data)
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.Equal(t, "ABC", res.Outputs["echo"])
}

func TestExecuteStageOnErrorIgnore(t *testing.T) {
	d := NewDispatcher()
	res := d.ExecuteStage(context.Background(), Spec{Name: "boom", Kind: KindFail, Message: "nope", OnError: OnErrorIgnore}, map[string]interface{}{})
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.NotNil(t, res.Err)
}

func TestExecuteStageOnErrorSkip(t *testing.T) {
	d := NewDispatcher()
	res := d.ExecuteStage(context.Background(), Spec{Name: "boom", Kind: KindFail, Message: "nope", OnError: OnErrorSkip}, map[string]interface{}{})
	require.Equal(t, ctxdata.SKIP, res.Status)
}

func TestExecuteStageOnErrorRaiseIsDefault(t *testing.T) {
	d := NewDispatcher()
	res := d.ExecuteStage(context.Background(), Spec{Name: "boom", Kind: KindFail, Message: "nope"}, map[string]interface{}{})
	require.Equal(t, ctxdata.FAILED, res.Status)
	require.NotNil(t, res.Err)
}

func TestExecuteStageRetriesThenSucceeds(t *testing.T) {
	d := NewDispatcher()
	attempts := 0
	d.Registry.Register("test", "flaky", "", registry.Signature{}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errFlaky
		}
		return map[string]interface{}{"ok": true}, nil
	})

	res := d.ExecuteStage(context.Background(), Spec{Name: "call-flaky", Kind: KindCall, Uses: "test/flaky", Retry: 2}, map[string]interface{}{})
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.Equal(t, 2, attempts)
}

func TestRunSequenceStopsOnFailureByDefault(t *testing.T) {
	d := NewDispatcher()
	stages := []Spec{
		{Name: "first", Kind: KindFail, Message: "stop"},
		{Name: "second", Kind: KindEmpty, Echo: "never"},
	}
	res := d.RunSequence(context.Background(), stages, map[string]interface{}{})
	require.Equal(t, ctxdata.FAILED, res.Status)
	_, ranSecond := res.Stages["second"]
	require.False(t, ranSecond)
}

func TestRunSequenceContinuesOnIgnore(t *testing.T) {
	d := NewDispatcher()
	stages := []Spec{
		{Name: "first", Kind: KindFail, Message: "soft", OnError: OnErrorIgnore},
		{Name: "second", Kind: KindEmpty, Echo: "ran"},
	}
	res := d.RunSequence(context.Background(), stages, map[string]interface{}{})
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.Equal(t, "ran", res.Stages["second"].Outputs["echo"])
}

func TestParallelBranchesAggregateStatus(t *testing.T) {
	d := NewDispatcher()
	spec := Spec{
		Name: "fanout",
		Kind: KindParallel,
		Branches: map[string][]Spec{
			"a": {{Name: "ok", Kind: KindEmpty, Echo: "a"}},
			"b": {{Name: "ok", Kind: KindEmpty, Echo: "b"}},
		},
	}
	res := d.ExecuteStage(context.Background(), spec, map[string]interface{}{})
	require.Equal(t, ctxdata.SUCCESS, res.Status)
}

func TestForeachRunsOncePerItem(t *testing.T) {
	d := NewDispatcher()
	data := map[string]interface{}{"params": map[string]interface{}{"items": []interface{}{int64(1), int64(2), int64(3)}}}
	spec := Spec{
		Name:    "each",
		Kind:    KindForeach,
		Foreach: "params.items",
		Stages:  []Spec{{Name: "echo", Kind: KindEmpty, Echo: "${{ item }}"}},
	}
	res := d.ExecuteStage(context.Background(), spec, data)
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	items, _ := res.Outputs["items"].([]interface{})
	require.Len(t, items, 3)
}

func TestCaseRunsMatchingBranch(t *testing.T) {
	d := NewDispatcher()
	data := map[string]interface{}{"params": map[string]interface{}{"env": "prod"}}
	spec := Spec{
		Name: "route",
		Kind: KindCase,
		Case: "params.env",
		Match: []CaseBranch{
			{Case: "prod", Stages: []Spec{{Name: "deploy", Kind: KindEmpty, Echo: "deploying"}}},
			{Case: "_", Stages: []Spec{{Name: "noop", Kind: KindEmpty}}},
		},
	}
	res := d.ExecuteStage(context.Background(), spec, data)
	require.Equal(t, ctxdata.SUCCESS, res.Status)
}

func TestUntilStopsOnCondition(t *testing.T) {
	d := NewDispatcher()
	data := map[string]interface{}{}
	calls := 0
	d.Registry.Register("counter", "bump", "", registry.Signature{}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"n": int64(calls)}, nil
	})
	spec := Spec{
		Name:    "loop",
		Kind:    KindUntil,
		Until:   "stages.bump.outputs.n >= 3",
		MaxLoop: 10,
		Stages:  []Spec{{Name: "bump", Kind: KindCall, Uses: "counter/bump"}},
	}
	res := d.ExecuteStage(context.Background(), spec, data)
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.Equal(t, 3, calls)
}

func TestUntilExhaustsMaxLoop(t *testing.T) {
	d := NewDispatcher()
	spec := Spec{
		Name:    "loop",
		Kind:    KindUntil,
		Until:   "False",
		MaxLoop: 2,
		Stages:  []Spec{{Name: "noop", Kind: KindEmpty}},
	}
	res := d.ExecuteStage(context.Background(), spec, map[string]interface{}{})
	require.Equal(t, ctxdata.FAILED, res.Status)
}

func TestTryCatchRecoversFailure(t *testing.T) {
	d := NewDispatcher()
	spec := Spec{
		Name:   "attempt",
		Kind:   KindTry,
		Stages: []Spec{{Name: "boom", Kind: KindFail, Message: "x"}},
		Catch:  []Spec{{Name: "recover", Kind: KindEmpty, Echo: "recovered"}},
	}
	res := d.ExecuteStage(context.Background(), spec, map[string]interface{}{})
	require.Equal(t, ctxdata.SUCCESS, res.Status)
}

func TestSetThenGetRoundTrip(t *testing.T) {
	d := NewDispatcher()
	data := map[string]interface{}{}
	stages := []Spec{
		{Name: "set-it", Kind: KindSet, Path: "vars.greeting", Value: "hello"},
		{Name: "get-it", Kind: KindGet, Path: "vars.greeting"},
	}
	res := d.RunSequence(context.Background(), stages, data)
	require.Equal(t, ctxdata.SUCCESS, res.Status)
	require.Equal(t, "hello", res.Stages["get_it"].Outputs["value"])
}

func TestWaitStageRespectsContextCancellation(t *testing.T) {
	d := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.ExecuteStage(ctx, Spec{Name: "wait", Kind: KindWait, Wait: 5}, map[string]interface{}{})
	require.Equal(t, ctxdata.FAILED, res.Status)
}

func TestTimeoutFailsStage(t *testing.T) {
	d := NewDispatcher()
	res := d.ExecuteStage(context.Background(), Spec{Name: "slow", Kind: KindWait, Wait: 1, Timeout: 10 * time.Millisecond}, map[string]interface{}{})
	require.Equal(t, ctxdata.FAILED, res.Status)
}

var errFlaky = &stringError{"not yet"}
