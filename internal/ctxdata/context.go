package ctxdata

import "sync"

// Context is the JSON-shaped run context, as the workflow executor fills it:
//
//	{
//	  "params": {...},
//	  "jobs": { "<job-id>": { "status": "...", "items": [ { "matrix": {...}, "status": "...", "outputs": { "<stage-id>": {...} } } ] } },
//	  "errors"?: {...}
//	}
//
// Each job holds its status and one "items" entry per strategy item (one
// entry when there is no matrix); a job cancelled before it starts holds
// only "status". There is no per-job "stages" or "strategies" map. Errors
// holds only what MergeError adds, and the executors do not call it.
//
// It is copy-on-merge (§5 shared-resource policy): concurrent writers own a
// scoped child and the parent Merge happens under the mutex. Readers taking
// Snapshot see a consistent point-in-time copy.
type Context struct {
	mu     sync.Mutex
	Params map[string]interface{}
	Jobs   map[string]interface{}
	Errors map[string]interface{}
}

// New returns an empty Context seeded with the given coerced params.
func New(params map[string]interface{}) *Context {
	return &Context{
		Params: params,
		Jobs:   make(map[string]interface{}),
		Errors: make(map[string]interface{}),
	}
}

// Snapshot returns a deep copy safe for a reader to hold without racing
// future writers.
func (c *Context) Snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"params": deepCopy(c.Params),
		"jobs":   deepCopy(c.Jobs),
		"errors": deepCopy(c.Errors),
	}
}

// MergeJob writes a job's accumulated sub-context under jobs.<id>. Called
// once by the job executor when the job reaches a terminal status.
func (c *Context) MergeJob(jobID string, value map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Jobs[jobID] = deepCopy(value)
}

// MergeError records a structured error entry under the given scope key
// (e.g. "jobs.j1.stages.s2" or "workflow").
func (c *Context) MergeError(scope string, entry map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors[scope] = entry
}

// deepCopy recursively clones maps/slices so that no two goroutines ever
// share backing storage after a merge, keeping concurrent branches isolated
// from each other's writes.
func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = deepCopy(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}

// DeepCopyMap exposes the copy helper for callers (stage/job executors)
// building scoped child contexts before dispatch.
func DeepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	cp := deepCopy(m)
	out, _ := cp.(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}
