package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	otrace "go.opentelemetry.io/otel/trace"

	"github.com/cloudshipai/workflow-core/internal/config"
	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/job"
	"github.com/cloudshipai/workflow-core/internal/param"
	"github.com/cloudshipai/workflow-core/internal/stage"
	"github.com/cloudshipai/workflow-core/internal/telemetry"
)

// Options carries the optional §6 execute() keyword arguments.
type Options struct {
	Event       map[string]interface{}
	Timeout     time.Duration // overrides Spec.Timeout when non-zero
	ParentRunID string
	Timezone    *time.Location
}

// Engine runs Workflow specs against a shared Dispatcher/job.Executor pair.
// One Engine is typically shared by every run in a process.
type Engine struct {
	Dispatcher   *stage.Dispatcher
	Config       config.Config
	Tracer       *telemetry.Tracer
	jobExec      *job.Executor
	subWorkflows SubWorkflows
}

// NewEngine wires a fresh Dispatcher and job.Executor together using
// config.FromEnv() (§6). The Dispatcher's TriggerFunc is set to this
// Engine; callers register call-registry entries on Dispatcher and trigger
// targets with RegisterSubWorkflow before running workflows so
// `call`/`trigger` stages resolve. Use NewEngineWithConfig to supply a Config explicitly
// (e.g. in tests, to avoid reading the process environment).
func NewEngine() *Engine {
	return NewEngineWithConfig(config.FromEnv())
}

// NewEngineWithConfig is NewEngine with an explicit Config, used by callers
// (and tests) that don't want to read the process environment.
func NewEngineWithConfig(cfg config.Config) *Engine {
	d := stage.NewDispatcher()
	d.StageDefaultID = cfg.StageDefaultID
	jobExec := job.NewExecutor(d)
	jobExec.DefaultMaxParallel = cfg.MaxJobParallel
	jobExec.DefaultTimeout = cfg.MaxJobExecTimeout
	e := &Engine{Dispatcher: d, Config: cfg, Tracer: telemetry.New(), jobExec: jobExec, subWorkflows: SubWorkflows{}}
	d.Trigger = e.triggerSubWorkflow
	return e
}

// SubWorkflows maps a workflow name to its Spec, consulted by the `trigger`
// stage variant. Set before Execute is called if any stage uses `trigger`.
type SubWorkflows map[string]Spec

// RegisterSubWorkflow makes spec available as a `trigger` target under name.
func (e *Engine) RegisterSubWorkflow(name string, spec Spec) {
	e.subWorkflows[name] = spec
}

func (e *Engine) triggerSubWorkflow(ctx context.Context, name string, params map[string]interface{}, parentRunID string) (ctxdata.Status, map[string]interface{}, error) {
	sub, ok := e.subWorkflows[name]
	if !ok {
		return ctxdata.FAILED, nil, fmt.Errorf("unknown workflow %q", name)
	}
	res, err := e.Execute(ctx, sub, params, Options{ParentRunID: parentRunID})
	if err != nil {
		return ctxdata.FAILED, nil, err
	}
	return res.Status, res.Context, nil
}

// Execute runs spec to completion: coerces params, schedules the job DAG
// concurrently as dependencies resolve, and aggregates the final status.
func (e *Engine) Execute(ctx context.Context, spec Spec, rawParams map[string]interface{}, opts Options) (ctxdata.Result, error) {
	if err := spec.Validate(); err != nil {
		return ctxdata.Result{Status: ctxdata.FAILED}, err
	}

	tz := opts.Timezone
	if tz == nil {
		tz = e.Config.Timezone
	}
	if tz == nil {
		tz = time.UTC
	}
	params, err := param.CoerceAll(spec.Params, rawParams, tz)
	if err != nil {
		return ctxdata.Result{Status: ctxdata.FAILED}, err
	}
	if opts.Event != nil {
		params["event"] = opts.Event
	}

	runCtx := ctxdata.New(params)
	runID := uuid.NewString()
	start := time.Now()

	timeout := spec.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	execCtx := ctx
	if e.Tracer != nil {
		execCtx = e.Tracer.StartRunSpan(execCtx, runID, opts.ParentRunID, spec.Name)
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, timeout+spec.GracePeriod)
		defer cancel()
	}

	// Each job writes its terminal status to jobStatus[id] and then closes
	// done[id], so every dependent (not only the first reader) sees it.
	done := make(map[string]chan struct{}, len(spec.Jobs))
	jobStatus := make(map[string]*ctxdata.Status, len(spec.Jobs))
	for id := range spec.Jobs {
		done[id] = make(chan struct{})
		jobStatus[id] = new(ctxdata.Status)
	}

	var wg sync.WaitGroup
	for id, jspec := range spec.Jobs {
		wg.Add(1)
		go func(id string, jspec job.Spec) {
			defer wg.Done()
			defer close(done[id])

			upstream := make([]ctxdata.Status, 0, len(jspec.Needs))
			for _, dep := range sortedNeeds(jspec.Needs) {
				select {
				case <-done[dep]:
					upstream = append(upstream, *jobStatus[dep])
				case <-execCtx.Done():
					*jobStatus[id] = ctxdata.CANCEL
					runCtx.MergeJob(id, map[string]interface{}{"status": string(ctxdata.CANCEL)})
					return
				}
			}

			if execCtx.Err() != nil {
				*jobStatus[id] = ctxdata.CANCEL
				runCtx.MergeJob(id, map[string]interface{}{"status": string(ctxdata.CANCEL)})
				return
			}

			jobCtx := execCtx
			if e.Tracer != nil {
				var span otrace.Span
				jobCtx, span = e.Tracer.StartJobSpan(execCtx, id)
				defer span.End()
			}

			baseData := runCtx.Snapshot()
			res := e.jobExec.Execute(jobCtx, jspec, upstream, baseData)

			itemOutputs := make([]interface{}, len(res.Items))
			for i, it := range res.Items {
				itemOutputs[i] = map[string]interface{}{"matrix": map[string]interface{}(it.Item), "status": string(it.Status), "outputs": it.Outputs}
			}
			runCtx.MergeJob(id, map[string]interface{}{
				"status": string(res.Status),
				"items":  itemOutputs,
			})

			*jobStatus[id] = res.Status
		}(id, jspec)
	}
	wg.Wait()

	finalStatuses := make([]ctxdata.Status, 0, len(spec.Jobs))
	jobs := runCtx.Snapshot()["jobs"].(map[string]interface{})
	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		j, _ := jobs[id].(map[string]interface{})
		s, _ := j["status"].(string)
		finalStatuses = append(finalStatuses, ctxdata.Status(s))
	}

	status := ctxdata.Aggregate(finalStatuses)
	end := time.Now()

	if e.Tracer != nil {
		e.Tracer.EndRunSpan(runID, string(status), nil)
	}

	return ctxdata.Result{
		Status:      status,
		Context:     runCtx.Snapshot(),
		RunID:       runID,
		ParentRunID: opts.ParentRunID,
		Start:       start,
		End:         end,
	}, nil
}

func sortedNeeds(needs []string) []string {
	out := append([]string(nil), needs...)
	sort.Strings(out)
	return out
}
