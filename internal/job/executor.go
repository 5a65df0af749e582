package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/errs"
	"github.com/cloudshipai/workflow-core/internal/stage"
)

// Result is the outcome of running one job (across every expanded strategy
// item).
type Result struct {
	Status  ctxdata.Status
	Items   []ItemResult
	Skipped bool
}

// ItemResult is one strategy item's stage-sequence outcome.
type ItemResult struct {
	Item    Item
	Status  ctxdata.Status
	Outputs map[string]interface{}
}

// Executor runs a single Job's matrix against a shared Dispatcher, using a
// worker-pool/semaphore shape with fail-fast cancellation across strategy
// items.
type Executor struct {
	Dispatcher *stage.Dispatcher

	// DefaultMaxParallel bounds a job's matrix concurrency when its
	// Strategy doesn't set MaxParallel itself (§3: "default
	// unbounded-but-bounded-by-workers"), sourced from CORE_MAX_JOB_PARALLEL
	// (§6) by the caller. Zero means truly unbounded.
	DefaultMaxParallel int

	// DefaultTimeout bounds a job's execution when its own Spec.Timeout is
	// unset, sourced from CORE_MAX_JOB_EXEC_TIMEOUT by the caller. Zero
	// means no default (the job runs unbounded).
	DefaultTimeout time.Duration
}

// NewExecutor returns an Executor bound to the given Dispatcher.
func NewExecutor(d *stage.Dispatcher) *Executor {
	return &Executor{Dispatcher: d}
}

// Execute decides (via EvaluateTriggerRule) whether the job runs at all
// given upstream statuses, then expands its Strategy and runs every item's
// stage sequence, bounded by Strategy.MaxParallel, cancelling remaining
// items as soon as one fails if Strategy.FailFast is set.
func (e *Executor) Execute(ctx context.Context, spec Spec, upstream []ctxdata.Status, baseData map[string]interface{}) Result {
	if !EvaluateTriggerRule(spec.TriggerRule, upstream) {
		return Result{Status: ctxdata.SKIP, Skipped: true}
	}

	if spec.If != "" {
		ok, err := e.Dispatcher.Eval.EvalCondition(spec.If, baseData)
		if err != nil {
			entry := errs.ToEntry(&errs.JobError{JobID: spec.ID, Cause: err})
			return Result{Status: ctxdata.FAILED, Items: []ItemResult{{Status: ctxdata.FAILED, Outputs: map[string]interface{}{"_error": entry}}}}
		}
		if !ok {
			return Result{Status: ctxdata.SKIP, Skipped: true}
		}
	}

	items := spec.Strategy.Expand()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	maxParallel := spec.Strategy.MaxParallel
	if maxParallel <= 0 {
		maxParallel = e.DefaultMaxParallel
	}
	var sem chan struct{}
	if maxParallel > 0 {
		sem = make(chan struct{}, maxParallel)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]ItemResult, len(items))
	var failed bool

	for i, item := range items {
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			itemData := ctxdata.DeepCopyMap(baseData)
			itemData["matrix"] = map[string]interface{}(item)

			var seqRes stage.SequenceResult
			var cancelErr error
			if runCtx.Err() != nil {
				seqRes = stage.SequenceResult{Status: ctxdata.CANCEL}
				if timeout > 0 && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
					cancelErr = &errs.Timeout{Scope: "job " + spec.ID, After: timeout.String()}
				} else {
					cancelErr = &errs.Cancelled{Scope: "job " + spec.ID}
				}
			} else {
				seqRes = e.Dispatcher.RunSequence(runCtx, spec.Stages, itemData)
			}

			outputs := make(map[string]interface{}, len(seqRes.Stages))
			for id, rec := range seqRes.Stages {
				outputs[id] = rec.Outputs
			}
			if cancelErr != nil {
				outputs["_error"] = errs.ToEntry(cancelErr)
			}

			mu.Lock()
			results[i] = ItemResult{Item: item, Status: seqRes.Status, Outputs: outputs}
			if seqRes.Status == ctxdata.FAILED {
				failed = true
				if spec.Strategy.FailFast {
					cancel()
				}
			}
			mu.Unlock()
		}(i, item)
	}
	wg.Wait()

	statuses := make([]ctxdata.Status, len(results))
	for i, r := range results {
		statuses[i] = r.Status
	}

	status := AggregateItems(statuses)
	if failed {
		status = ctxdata.FAILED
	}

	return Result{Status: status, Items: results}
}

// sortedNeeds returns a sorted copy of a job's dependency names, for a
// deterministic iteration order.
func sortedNeeds(needs []string) []string {
	out := append([]string(nil), needs...)
	sort.Strings(out)
	return out
}
