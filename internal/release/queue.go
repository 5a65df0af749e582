// Package release implements the release queue: a per-workflow cron
// iterator feeding a bounded worker pool, deduplicated against the audit
// store so a restart never re-runs a fire that already completed.
package release

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudshipai/workflow-core/internal/cron"
	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/trace"
	"github.com/cloudshipai/workflow-core/internal/workflow"
)

// Type is the §3 Release.release-type: why this fire was enqueued.
type Type string

const (
	Poke   Type = "poke"
	Force  Type = "force"
	Manual Type = "manual"
)

// Release is the §3 tuple: a workflow name firing at a specific instant.
// Two Releases with identical Workflow and Instant are equivalent for
// dedup purposes (§4.6, §8 invariant 8).
type Release struct {
	Workflow string
	Instant  time.Time
	Type     Type
}

// Schedule binds one workflow's cron expression/timezone/spec to the
// coordinator. Registered once per scheduled workflow before Start.
type Schedule struct {
	Workflow workflow.Spec
	Cron     *cron.Schedule
	Params   map[string]interface{}
}

// scheduleEntry is one item in the coordinator's min-heap of pending next
// fires, one per registered workflow.
type scheduleEntry struct {
	name string
	next time.Time
}

type entryHeap []*scheduleEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].next.Before(h[j].next) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*scheduleEntry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Coordinator is the process-lifetime release queue singleton (§3
// "Release queue: process-lifetime singleton"). It owns a min-heap of next
// fires, a bounded worker pool, and the audit store used for dedup.
type Coordinator struct {
	mu        sync.Mutex
	cond      *sync.Cond
	schedules map[string]Schedule
	heapItems entryHeap
	engine    *workflow.Engine
	audit     *trace.Store
	sink      trace.Sink

	workers    int
	queueItems []Release
	queueCap   int
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	onDropped  func(Release)
}

// Options configures a Coordinator. Workers defaults to 4, QueueCap to 64
// (§4.6 "if the queue is full, oldest extra fires are dropped").
type Options struct {
	Workers   int
	QueueCap  int
	OnDropped func(Release)
}

// NewCoordinator builds a Coordinator around engine (used to run fired
// workflows) and audit (used for already-ran dedup and to persist
// completed releases).
func NewCoordinator(engine *workflow.Engine, audit *trace.Store, sink trace.Sink, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = 64
	}
	if opts.OnDropped == nil {
		opts.OnDropped = func(Release) {}
	}
	c := &Coordinator{
		schedules: make(map[string]Schedule),
		engine:    engine,
		audit:     audit,
		sink:      sink,
		workers:   opts.Workers,
		queueCap:  opts.QueueCap,
		onDropped: opts.OnDropped,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Register adds or replaces a scheduled workflow, computing its first fire
// strictly after `from`. Must be called before Start (or while stopped) for
// a given workflow name to take effect cleanly; re-registering a running
// workflow's name takes effect at its next recomputed fire.
func (c *Coordinator) Register(sched Schedule, from time.Time) error {
	next, err := sched.Cron.Next(from)
	if err != nil {
		return fmt.Errorf("release: schedule %s: %w", sched.Workflow.Name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules[sched.Workflow.Name] = sched
	heap.Push(&c.heapItems, &scheduleEntry{name: sched.Workflow.Name, next: next})
	return nil
}

// Start launches the worker pool and the tick loop, polling every
// tickEvery for due fires.
func (c *Coordinator) Start(ctx context.Context, tickEvery time.Duration) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}

	c.wg.Add(1)
	go c.tickLoop(ctx, tickEvery)

	// Wake any worker blocked in popFront once ctx is cancelled; Stop
	// broadcasts on its own stopCh-close path, this covers the other one.
	stopCh := c.stopCh
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-stopCh:
		}
	}()
}

// Stop signals the tick loop and workers to drain and exits once they have,
// or once grace elapses (§5 "implementation-defined grace period").
func (c *Coordinator) Stop(grace time.Duration) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.cond.Broadcast()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

func (c *Coordinator) tickLoop(ctx context.Context, tickEvery time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.popDue(now)
		}
	}
}

// popDue pops every heap entry whose fire instant is <= now, enqueues a
// Release per entry (subject to backpressure; audit dedup happens when a
// worker runs it), and reschedules each workflow's next fire. It does not
// wait for the enqueued releases to run, so a later tick can pop further
// fires while earlier ones are still queued or running.
func (c *Coordinator) popDue(now time.Time) {
	c.mu.Lock()
	var due []scheduleEntry
	for len(c.heapItems) > 0 && !c.heapItems[0].next.After(now) {
		item := heap.Pop(&c.heapItems).(*scheduleEntry)
		due = append(due, *item)
	}
	c.mu.Unlock()

	for _, d := range due {
		c.enqueue(Release{Workflow: d.name, Instant: d.next, Type: Poke})
		c.requeueNext(d.name, d.next)
	}
}

func (c *Coordinator) requeueNext(name string, after time.Time) {
	c.mu.Lock()
	sched, ok := c.schedules[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	next, err := sched.Cron.Next(after)
	if err != nil {
		return
	}
	c.mu.Lock()
	heap.Push(&c.heapItems, &scheduleEntry{name: name, next: next})
	c.mu.Unlock()
}

// enqueue applies backpressure: a full queue drops the oldest pending
// Release with a "skipped" audit entry, per §4.6.
func (c *Coordinator) enqueue(r Release) {
	c.mu.Lock()
	var dropped Release
	var drop bool
	if len(c.queueItems) >= c.queueCap {
		dropped = c.queueItems[0]
		c.queueItems = c.queueItems[1:]
		drop = true
	}
	c.queueItems = append(c.queueItems, r)
	c.mu.Unlock()
	c.cond.Signal()

	if drop {
		c.onDropped(dropped)
		_ = c.audit.Save(trace.AuditRecord{
			Workflow: dropped.Workflow,
			Instant:  dropped.Instant,
			Status:   string(ctxdata.SKIP),
			Skipped:  true,
			Reason:   "queue_full",
		})
	}
}

// Poke manually enqueues a Release for name at instant, bypassing the cron
// iterator (§6 `poke` entry point: starting_instant/end_instant/force_run).
// If force is true the audit dedup check is bypassed.
func (c *Coordinator) Poke(name string, instant time.Time, force bool) error {
	c.mu.Lock()
	_, ok := c.schedules[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("release: poke: unknown workflow %q", name)
	}
	typ := Poke
	if force {
		typ = Force
	}
	if !force {
		already, err := c.audit.IsRecorded(name, instant)
		if err != nil {
			return err
		}
		if already {
			return nil
		}
	}
	c.enqueue(Release{Workflow: name, Instant: instant, Type: typ})
	return nil
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		r, ok := c.popFront(ctx)
		if !ok {
			return
		}
		c.run(ctx, r)
	}
}

// popFront blocks until a Release is queued, the queue is drained after a
// stop/cancel, or nothing is left to drain. Whatever is already queued is
// always delivered before returning false, so a Stop doesn't strand
// in-flight-looking releases as unrecorded.
func (c *Coordinator) popFront(ctx context.Context) (Release, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if len(c.queueItems) > 0 {
			r := c.queueItems[0]
			c.queueItems = c.queueItems[1:]
			return r, true
		}
		if ctx.Err() != nil || c.stopClosed() {
			return Release{}, false
		}
		c.cond.Wait()
	}
}

func (c *Coordinator) stopClosed() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// run executes one Release: dedup (unless Force), invoke the workflow, and
// append the audit record (§4.6 "on completion, append an audit record").
func (c *Coordinator) run(ctx context.Context, r Release) {
	if r.Type != Force {
		already, err := c.audit.IsRecorded(r.Workflow, r.Instant)
		if err == nil && already {
			return
		}
	}

	c.mu.Lock()
	sched, ok := c.schedules[r.Workflow]
	c.mu.Unlock()
	if !ok {
		return
	}

	params := make(map[string]interface{}, len(sched.Params)+1)
	for k, v := range sched.Params {
		params[k] = v
	}
	params["release"] = map[string]interface{}{
		"logical_date": r.Instant,
		"type":         string(r.Type),
	}

	start := time.Now()
	res, err := c.engine.Execute(ctx, sched.Workflow, params, workflow.Options{})
	status := ctxdata.FAILED
	if err == nil {
		status = res.Status
	}

	if c.sink != nil {
		_ = c.sink.Emit(trace.NewEvent(res.RunID, "info", "release.completed", "", map[string]interface{}{
			"workflow": r.Workflow,
			"instant":  r.Instant,
			"status":   string(status),
			"duration": time.Since(start).String(),
		}, time.Now()))
	}

	_ = c.audit.Save(trace.AuditRecord{
		Workflow: r.Workflow,
		Instant:  r.Instant,
		RunID:    res.RunID,
		Status:   string(status),
	})
}

// Pending reports the number of releases currently queued, for
// observability/tests.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queueItems)
}
