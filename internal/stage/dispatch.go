package stage

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/errs"
	"github.com/cloudshipai/workflow-core/internal/expr"
	"github.com/cloudshipai/workflow-core/internal/registry"
)

// CallerFunc implements an `@tag` post-filter caller (§4.2): a named
// function invoked with the pipeline's resolved value, returning the final
// substituted value.
type CallerFunc func(ctx context.Context, tag string, value interface{}) (interface{}, error)

// TriggerFunc starts a sub-workflow run for the `trigger` stage variant and
// waits for its terminal result. Supplied by the workflow package to avoid
// an import cycle (stage does not know about workflow.Workflow).
type TriggerFunc func(ctx context.Context, workflowName string, params map[string]interface{}, parentRunID string) (ctxdata.Status, map[string]interface{}, error)

// Result is the outcome of executing one stage.
type Result struct {
	Status  ctxdata.Status
	Outputs map[string]interface{}
	Err     *errs.Entry
}

// Dispatcher holds the shared collaborators every stage variant needs:
// the template/condition evaluator, the call registry, script runners, and
// the sub-workflow trigger hook. One Dispatcher is shared by an entire run.
type Dispatcher struct {
	Eval        *expr.Evaluator
	Registry    *registry.Registry
	Script      ScriptRunner
	Bash        BashRunner
	Callers     map[string]CallerFunc
	Trigger     TriggerFunc
	RunID       string
	ParentRunID string

	// StageDefaultID gates whether DeriveID falls back to a slug of the
	// stage's Name when ID is empty (CORE_STAGE_DEFAULT_ID). Defaults to
	// true; set false (e.g. by workflow.NewEngineWithConfig) to require
	// stages to carry an explicit id.
	StageDefaultID bool
}

// NewDispatcher wires the default collaborators (§11 DOMAIN STACK): a
// starlark-backed expr.Evaluator, an empty call registry, and the default
// StarlarkScriptRunner/BashRunner pair. Callers add registry entries and
// Callers/Trigger hooks before use.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		Eval:           expr.NewEvaluator(),
		Registry:       registry.New(),
		Script:         NewStarlarkScriptRunner(),
		Bash:           BashRunner{},
		Callers:        make(map[string]CallerFunc),
		StageDefaultID: true,
	}
}

// deriveID resolves a stage's id, honoring StageDefaultID: when false, a
// stage with no explicit ID gets none rather than one slugged from Name.
func (d *Dispatcher) deriveID(s Spec) string {
	if s.ID != "" {
		return s.ID
	}
	if !d.StageDefaultID {
		return ""
	}
	return s.DeriveID()
}

func (d *Dispatcher) callerFn(ctx context.Context) func(tag string, value interface{}) (interface{}, error) {
	return func(tag string, value interface{}) (interface{}, error) {
		fn, ok := d.Callers[tag]
		if !ok {
			return nil, &errs.TemplateError{Expr: "@" + tag, Message: "no registered caller"}
		}
		return fn(ctx, tag, value)
	}
}

// resolveAny is a convenience wrapper threading this Dispatcher's caller
// table through expr.Evaluator.ResolveAny.
func (d *Dispatcher) resolveAny(ctx context.Context, v interface{}, data map[string]interface{}) (interface{}, error) {
	return d.Eval.ResolveAny(v, data, d.callerFn(ctx))
}

// ExecuteStage runs the shared §4.3 contract for a single stage: if-check,
// dispatch under timeout, on_error absorption, and retry with exponential
// backoff. It does not merge outputs into the caller's context snapshot;
// RunSequence (variants.go) does that between stages.
func (d *Dispatcher) ExecuteStage(ctx context.Context, spec Spec, data map[string]interface{}) Result {
	id := d.deriveID(spec)

	if spec.If != "" {
		ok, err := d.Eval.EvalCondition(spec.If, data)
		if err != nil {
			return Result{Status: ctxdata.FAILED, Err: entryPtr(errs.ToEntry(err))}
		}
		if !ok {
			return Result{Status: ctxdata.SKIP, Outputs: map[string]interface{}{}}
		}
	}

	outputs, err := d.runWithRetry(ctx, spec, data)
	if err == nil {
		return Result{Status: ctxdata.SUCCESS, Outputs: outputs}
	}

	stageErr := &errs.StageError{Variant: string(spec.Kind), StageID: id, Cause: err}
	entry := errs.ToEntry(stageErr)

	switch spec.OnError {
	case OnErrorIgnore:
		return Result{Status: ctxdata.SUCCESS, Outputs: outputs, Err: &entry}
	case OnErrorSkip:
		return Result{Status: ctxdata.SKIP, Outputs: outputs, Err: &entry}
	default: // raise, or unset defaults to raise
		return Result{Status: ctxdata.FAILED, Outputs: outputs, Err: &entry}
	}
}

func entryPtr(e errs.Entry) *errs.Entry { return &e }

// runWithRetry wraps dispatchVariant with the §4.3 retry policy: base 1s,
// factor 2, jitter 0-250ms, cap 30s, spec.Retry additional attempts beyond
// the first, no retry once ctx is cancelled or the stage's own timeout
// elapses.
func (d *Dispatcher) runWithRetry(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	stageCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	if spec.Retry <= 0 {
		return d.dispatchVariant(stageCtx, spec, data)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0 // jitter applied manually below for an explicit 0-250ms bound
	bo.MaxElapsedTime = 0

	var lastErr error
	var outputs map[string]interface{}
	attempts := 0
	for {
		outputs, lastErr = d.dispatchVariant(stageCtx, spec, data)
		if lastErr == nil {
			return outputs, nil
		}
		attempts++
		if attempts > spec.Retry {
			return outputs, lastErr
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return outputs, lastErr
		}
		wait += time.Duration(rand.Intn(250)) * time.Millisecond
		timer := time.NewTimer(wait)
		select {
		case <-stageCtx.Done():
			timer.Stop()
			return outputs, stageCtx.Err()
		case <-timer.C:
		}
	}
}

// dispatchVariant executes exactly one attempt of spec's behavior, with no
// retry/timeout/on_error logic of its own (that lives in ExecuteStage /
// runWithRetry). Each variant's behavior is implemented in variants.go.
func (d *Dispatcher) dispatchVariant(ctx context.Context, spec Spec, data map[string]interface{}) (map[string]interface{}, error) {
	switch spec.Kind {
	case KindEmpty:
		return d.runEmpty(ctx, spec, data)
	case KindBash:
		return d.runBash(ctx, spec, data)
	case KindPy:
		return d.runPy(ctx, spec, data)
	case KindCall:
		return d.runCall(ctx, spec, data)
	case KindTrigger:
		return d.runTrigger(ctx, spec, data)
	case KindParallel:
		return d.runParallel(ctx, spec, data)
	case KindForeach:
		return d.runForeach(ctx, spec, data)
	case KindCase:
		return d.runCase(ctx, spec, data)
	case KindUntil:
		return d.runUntil(ctx, spec, data)
	case KindRaise:
		return d.runRaise(ctx, spec, data)
	case KindTry:
		return d.runTry(ctx, spec, data)
	case KindWait:
		return d.runWait(ctx, spec, data)
	case KindSet:
		return d.runSet(ctx, spec, data)
	case KindGet:
		return d.runGet(ctx, spec, data)
	case KindTransform:
		return d.runTransform(ctx, spec, data)
	case KindHTTP:
		return d.runHTTP(ctx, spec, data)
	case KindPass:
		return map[string]interface{}{}, nil
	case KindSucceed:
		return map[string]interface{}{}, nil
	case KindFail:
		return nil, &errs.StageError{Variant: string(spec.Kind), StageID: d.deriveID(spec), Cause: errFromMessage(spec, data, d)}
	default:
		return nil, &errs.DefinitionError{Code: "unknown_stage_kind", Subject: string(spec.Kind), Message: "no dispatcher registered"}
	}
}

func errFromMessage(spec Spec, data map[string]interface{}, d *Dispatcher) error {
	msg := spec.Message
	if msg == "" {
		msg = "fail"
	}
	if resolved, err := d.Eval.ResolveString(msg, data, nil); err == nil {
		if s, ok := resolved.(string); ok {
			msg = s
		}
	}
	return &stringError{msg}
}

type stringError struct{ s string }

func (e *stringError) Error() string { return e.s }
