package stage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"context"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/errs"
	"github.com/cloudshipai/workflow-core/internal/expr"
)

// SequenceResult is the outcome of running an ordered stage list: the
// aggregated status (§3 lattice) plus a map keyed by stage id holding each
// stage's {outputs, error} record, matching §6's
// "stages.<id>.outputs"/"stages.<id>.errors" context shape.
type SequenceResult struct {
	Status ctxdata.Status
	Stages map[string]StageRecord
}

// StageRecord is one entry under the `stages` context namespace.
type StageRecord struct {
	Status  ctxdata.Status
	Outputs map[string]interface{}
	Error   *errs.Entry
}

// RunSequence executes stages in order against a shared, mutated data
// context, stopping (but still returning what ran) once a stage's result
// is FAILED and that stage's OnError was "raise" (the default). data is
// mutated in place under the "stages" key as each stage completes, so later
// stages and set/get stages observe prior results.
func (d *Dispatcher) RunSequence(ctx context.Context, stages []Spec, data map[string]interface{}) SequenceResult {
	stagesNS, _ := data["stages"].(map[string]interface{})
	if stagesNS == nil {
		stagesNS = make(map[string]interface{})
		data["stages"] = stagesNS
	}

	statuses := make([]ctxdata.Status, 0, len(stages))
	records := make(map[string]StageRecord, len(stages))

	for _, s := range stages {
		id := d.deriveID(s)

		if ctx.Err() != nil {
			rec := StageRecord{Status: ctxdata.CANCEL}
			records[id] = rec
			statuses = append(statuses, ctxdata.CANCEL)
			stagesNS[id] = map[string]interface{}{"outputs": map[string]interface{}{}, "status": string(ctxdata.CANCEL)}
			continue
		}

		res := d.ExecuteStage(ctx, s, data)
		rec := StageRecord{Status: res.Status, Outputs: res.Outputs, Error: res.Err}
		records[id] = rec
		statuses = append(statuses, res.Status)

		entry := map[string]interface{}{
			"outputs": res.Outputs,
			"status":  string(res.Status),
		}
		if res.Err != nil {
			entry["errors"] = []interface{}{map[string]interface{}{
				"name": res.Err.Name, "message": res.Err.Message,
			}}
		}
		stagesNS[id] = entry

		if res.Status == ctxdata.FAILED && s.OnError != OnErrorIgnore && s.OnError != OnErrorSkip {
			break
		}
	}

	return SequenceResult{Status: ctxdata.Aggregate(statuses), Stages: records}
}

// runEmpty implements the "empty" stage: optionally echoes a resolved
// value and/or sleeps, producing no side effects.
func (d *Dispatcher) runEmpty(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	outputs := map[string]interface{}{}
	if spec.Echo != "" {
		v, err := d.resolveAny(ctx, spec.Echo, data)
		if err != nil {
			return nil, err
		}
		outputs["echo"] = v
	}
	if spec.Sleep > 0 {
		if err := sleepCtx(ctx, time.Duration(spec.Sleep*float64(time.Second))); err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}

// runBash implements the "bash" stage: resolve the script body and env, run
// it in a subshell, and surface {return_code, stdout, stderr}. A non-zero
// return code is a stage failure.
func (d *Dispatcher) runBash(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	resolvedBash, err := d.resolveAny(ctx, spec.Bash, data)
	if err != nil {
		return nil, err
	}
	script, _ := resolvedBash.(string)

	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		rv, err := d.resolveAny(ctx, v, data)
		if err != nil {
			return nil, err
		}
		env[k] = fmt.Sprintf("%v", rv)
	}

	rc, stdout, stderr, err := d.Bash.Run(ctx, script, env)
	outputs := map[string]interface{}{
		"return_code": int64(rc),
		"stdout":      stdout,
		"stderr":      stderr,
	}
	if err != nil {
		return outputs, err
	}
	if rc != 0 {
		return outputs, fmt.Errorf("bash exited %d: %s", rc, stderr)
	}
	return outputs, nil
}

// runPy implements the "py" stage via the pluggable ScriptRunner (§4.3);
// the run body is handed the current data snapshot as script locals.
func (d *Dispatcher) runPy(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	return d.Script.Run(ctx, spec.Run, data)
}

// runCall implements the "call" stage: resolve `with`, dispatch through the
// call registry (§6 "Registry (input)").
func (d *Dispatcher) runCall(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	resolvedWith, err := d.resolveAny(ctx, spec.With, data)
	if err != nil {
		return nil, err
	}
	with, _ := resolvedWith.(map[string]interface{})
	if with == nil {
		with = map[string]interface{}{}
	}
	return d.Registry.Call(ctx, spec.Uses, with)
}

// runTrigger implements the "trigger" stage: starts a named sub-workflow run
// and blocks for its terminal result. The actual run orchestration is
// supplied by the workflow package through d.Trigger to avoid a stage/
// workflow import cycle.
func (d *Dispatcher) runTrigger(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	if d.Trigger == nil {
		return nil, &errs.DefinitionError{Code: "no_trigger_hook", Subject: spec.Trigger, Message: "trigger stage used with no TriggerFunc configured"}
	}
	resolvedParams, err := d.resolveAny(ctx, spec.TriggerParams, data)
	if err != nil {
		return nil, err
	}
	params, _ := resolvedParams.(map[string]interface{})

	status, outputs, err := d.Trigger(ctx, spec.Trigger, params, d.RunID)
	if err != nil {
		return outputs, err
	}
	if status == ctxdata.FAILED {
		return outputs, fmt.Errorf("triggered workflow %q failed", spec.Trigger)
	}
	return outputs, nil
}

// runParallel implements the "parallel" stage: every named branch runs its
// own stage sequence concurrently against an isolated copy of data, bounded
// by MaxParallel (0 = unbounded).
func (d *Dispatcher) runParallel(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	names := make([]string, 0, len(spec.Branches))
	for name := range spec.Branches {
		names = append(names, name)
	}
	sort.Strings(names)

	var sem chan struct{}
	if spec.MaxParallel > 0 {
		sem = make(chan struct{}, spec.MaxParallel)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]SequenceResult, len(names))

	for _, name := range names {
		branchStages := spec.Branches[name]
		wg.Add(1)
		go func(name string, branchStages []Spec) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			branchData := ctxdata.DeepCopyMap(data)
			res := d.RunSequence(ctx, branchStages, branchData)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, branchStages)
	}
	wg.Wait()

	statuses := make([]ctxdata.Status, 0, len(results))
	outputs := make(map[string]interface{}, len(results))
	for _, name := range names {
		res := results[name]
		statuses = append(statuses, res.Status)
		branchOutputs := make(map[string]interface{}, len(res.Stages))
		for id, rec := range res.Stages {
			branchOutputs[id] = rec.Outputs
		}
		outputs[name] = branchOutputs
	}

	if ctxdata.Aggregate(statuses) == ctxdata.FAILED {
		return outputs, fmt.Errorf("one or more parallel branches failed")
	}
	return outputs, nil
}

// runForeach implements the "foreach" stage: evaluate an iterable
// expression and run the nested stage list once per item, up to Concurrent
// items in flight at once (0 = unbounded... capped to len(items) in
// practice), using the same semaphore/WaitGroup idiom as runParallel.
func (d *Dispatcher) runForeach(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	raw, _, err := d.Eval.Eval(spec.Foreach, data)
	if err != nil {
		return nil, err
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, &errs.TemplateError{Expr: spec.Foreach, Message: "foreach expression did not yield a list"}
	}

	var sem chan struct{}
	if spec.Concurrent > 0 {
		sem = make(chan struct{}, spec.Concurrent)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	perItem := make([]SequenceResult, len(items))

	for i, item := range items {
		wg.Add(1)
		go func(i int, item interface{}) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			itemData := ctxdata.DeepCopyMap(data)
			key := fmt.Sprintf("%v", item)
			if spec.UseIndexAsKey {
				key = fmt.Sprintf("%d", i)
			}
			itemData["item"] = item
			itemData["item_index"] = int64(i)
			itemData["item_key"] = key
			res := d.RunSequence(ctx, spec.Stages, itemData)
			mu.Lock()
			perItem[i] = res
			mu.Unlock()
		}(i, item)
	}
	wg.Wait()

	statuses := make([]ctxdata.Status, len(perItem))
	items_out := make([]interface{}, len(perItem))
	for i, res := range perItem {
		statuses[i] = res.Status
		itemOutputs := make(map[string]interface{}, len(res.Stages))
		for id, rec := range res.Stages {
			itemOutputs[id] = rec.Outputs
		}
		items_out[i] = itemOutputs
	}

	outputs := map[string]interface{}{"items": items_out}
	if ctxdata.Aggregate(statuses) == ctxdata.FAILED {
		return outputs, fmt.Errorf("one or more foreach items failed")
	}
	return outputs, nil
}

// runCase implements the "case" stage: evaluate Case, run the first
// matching branch (or the "_" default). When nothing matches and
// SkipNotMatch is set it returns empty outputs and no error, so the stage
// ends SUCCESS, not SKIP; without SkipNotMatch it returns ErrCaseNoMatch.
func (d *Dispatcher) runCase(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	value, _, err := d.Eval.Eval(spec.Case, data)
	if err != nil {
		return nil, err
	}

	var defaultBranch *CaseBranch
	for i := range spec.Match {
		b := &spec.Match[i]
		if b.Case == "_" {
			defaultBranch = b
			continue
		}
		if matchesCase(value, b.Case) {
			res := d.RunSequence(ctx, b.Stages, data)
			return sequenceOutputs(res), statusToErr(res.Status, "case branch failed")
		}
	}
	if defaultBranch != nil {
		res := d.RunSequence(ctx, defaultBranch.Stages, data)
		return sequenceOutputs(res), statusToErr(res.Status, "case default branch failed")
	}
	if spec.SkipNotMatch {
		return map[string]interface{}{}, nil
	}
	return nil, errs.ErrCaseNoMatch
}

func matchesCase(value interface{}, want interface{}) bool {
	return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", want)
}

// runUntil implements the "until" stage: repeat the nested stage list until
// the Until condition evaluates true, or MaxLoop iterations elapse without
// satisfying it (ErrUntilExhausted).
func (d *Dispatcher) runUntil(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	maxLoop := spec.MaxLoop
	if maxLoop <= 0 {
		maxLoop = 10
	}

	var lastRes SequenceResult
	for i := 0; i < maxLoop; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastRes = d.RunSequence(ctx, spec.Stages, data)
		done, err := d.Eval.EvalCondition(spec.Until, data)
		if err != nil {
			return sequenceOutputs(lastRes), err
		}
		if done {
			return sequenceOutputs(lastRes), statusToErr(lastRes.Status, "until body failed")
		}
	}
	return sequenceOutputs(lastRes), errs.ErrUntilExhausted
}

// runRaise implements the "raise" stage: unconditionally fails with a
// resolved message.
func (d *Dispatcher) runRaise(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	return nil, errFromMessage(spec, data, d)
}

// runTry implements the "try" stage: run Stages, on failure run Catch,
// always run Finally.
func (d *Dispatcher) runTry(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	res := d.RunSequence(ctx, spec.Stages, data)
	var tryErr error
	if res.Status == ctxdata.FAILED {
		if len(spec.Catch) > 0 {
			catchRes := d.RunSequence(ctx, spec.Catch, data)
			if catchRes.Status == ctxdata.FAILED {
				tryErr = fmt.Errorf("try/catch both failed")
			}
		} else {
			tryErr = fmt.Errorf("try block failed with no catch")
		}
	}
	if len(spec.Finally) > 0 {
		d.RunSequence(ctx, spec.Finally, data)
	}
	return sequenceOutputs(res), tryErr
}

// runWait implements the "wait" stage: a plain timer.
func (d *Dispatcher) runWait(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	if err := sleepCtx(ctx, time.Duration(spec.Wait*float64(time.Second))); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

// runSet implements the "set" stage: resolve Value and write it into the
// shared data context at Path.
func (d *Dispatcher) runSet(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	v, err := d.resolveAny(ctx, spec.Value, data)
	if err != nil {
		return nil, err
	}
	expr.SetNestedValue(data, spec.Path, v)
	return map[string]interface{}{"path": spec.Path, "value": v}, nil
}

// runGet implements the "get" stage: read Path from data and surface it as
// an output (useful as an explicit read-and-publish step).
func (d *Dispatcher) runGet(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	v, ok := expr.GetNestedValue(data, spec.Path)
	if !ok {
		return nil, &errs.TemplateError{Expr: spec.Path, Message: "path not found"}
	}
	return map[string]interface{}{"value": v}, nil
}

// runTransform implements the "transform" stage: evaluate an expression and
// write its result to Path, combining set+get into a single
// derive-a-value step.
func (d *Dispatcher) runTransform(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	v, _, err := d.Eval.Eval(spec.Transform, data)
	if err != nil {
		return nil, err
	}
	if spec.Path != "" {
		expr.SetNestedValue(data, spec.Path, v)
	}
	return map[string]interface{}{"value": v}, nil
}

// runHTTP implements the "http" stage: a single thin HTTP request, not a
// general client. Kept intentionally minimal: no connection pooling config,
// no retries beyond the shared stage contract's.
func (d *Dispatcher) runHTTP(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	return httpDo(ctx, d, spec, data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sequenceOutputs(res SequenceResult) map[string]interface{} {
	out := make(map[string]interface{}, len(res.Stages))
	for id, rec := range res.Stages {
		out[id] = rec.Outputs
	}
	return out
}

func statusToErr(status ctxdata.Status, msg string) error {
	if status == ctxdata.FAILED {
		return fmt.Errorf("%s", msg)
	}
	return nil
}
