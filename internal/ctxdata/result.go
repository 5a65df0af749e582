package ctxdata

import "time"

// ErrorEntry is the structured error record described in §3/§7:
// name, message, optional traceback.
type ErrorEntry struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// Result is the value returned by every execute-shaped call in the engine
// (stage, job, workflow). No exception ever escapes execute; callers
// inspect Result.Status (§7).
type Result struct {
	Status       Status                 `json:"status"`
	Context      map[string]interface{} `json:"context"`
	RunID        string                 `json:"run_id"`
	ParentRunID  string                 `json:"parent_run_id,omitempty"`
	Start        time.Time              `json:"start"`
	End          time.Time              `json:"end"`
	Errors       []ErrorEntry           `json:"errors,omitempty"`
}

// WithError appends a structured error entry and returns the Result for
// chaining at call sites that build a Result inline.
func (r Result) WithError(name, message string) Result {
	r.Errors = append(r.Errors, ErrorEntry{Name: name, Message: message})
	return r
}
