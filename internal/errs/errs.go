// Package errs defines the CORE's error taxonomy. Stage failures are folded
// into a terminal status and kept as an Entry on the stage's record; they
// are not copied into the workflow Result's context. workflow.Engine.Execute
// returns definition and parameter errors to its caller alongside a FAILED
// Result.
package errs

import "fmt"

// ParamError reports a parameter coercion failure at intake.
type ParamError struct {
	Name    string
	Type    string
	Value   interface{}
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("param %q (%s): %s", e.Name, e.Type, e.Message)
}

// TemplateError reports an unresolved or invalid ${{ }} expression.
type TemplateError struct {
	Expr    string
	Message string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %s", e.Expr, e.Message)
}

// DefinitionError reports a structural problem in a workflow/job/stage
// definition: cycles, duplicate ids, unknown dependencies, unknown trigger
// rules.
type DefinitionError struct {
	Code    string
	Subject string
	Message string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("definition error [%s] %s: %s", e.Code, e.Subject, e.Message)
}

// StageError wraps a variant-specific failure with addressing information.
type StageError struct {
	Variant string
	StageID string
	ItemID  string
	Cause   error
}

func (e *StageError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("stage %s[%s] (%s): %v", e.StageID, e.ItemID, e.Variant, e.Cause)
	}
	return fmt.Sprintf("stage %s (%s): %v", e.StageID, e.Variant, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// JobError wraps a job-level aggregate failure.
type JobError struct {
	JobID string
	Cause error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Cause)
}

func (e *JobError) Unwrap() error { return e.Cause }

// WorkflowError wraps a workflow-level aggregate failure.
type WorkflowError struct {
	Workflow string
	Cause    error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s: %v", e.Workflow, e.Cause)
}

func (e *WorkflowError) Unwrap() error { return e.Cause }

// CronParseError reports a malformed cron expression at construction time.
type CronParseError struct {
	Expr    string
	Message string
}

func (e *CronParseError) Error() string {
	return fmt.Sprintf("cron parse error in %q: %s", e.Expr, e.Message)
}

// CronNoMatch reports that no firing instant could be found within the
// bounded lookahead window.
type CronNoMatch struct {
	Expr  string
	Bound string
}

func (e *CronNoMatch) Error() string {
	return fmt.Sprintf("cron %q: no match within %s", e.Expr, e.Bound)
}

// Timeout reports a stage/job/workflow-level timeout expiry.
type Timeout struct {
	Scope string
	After string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Scope, e.After)
}

// Cancelled reports cancellation distinct from timeout, so callers can tell
// "ran out of time" from "someone asked us to stop" even though both
// produce a CANCEL status.
type Cancelled struct {
	Scope string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("%s cancelled", e.Scope)
}

// Named errors used as sentinels by stage variants (§4.3).
var (
	ErrCaseNoMatch    = fmt.Errorf("CaseNoMatch: no matching case and skip_not_match is false")
	ErrUntilExhausted = fmt.Errorf("UntilExhausted: max_loop reached before condition became true")
	ErrRaiseStage     = fmt.Errorf("RaiseStage: explicit raise stage")
)

// Entry is the structured error record merged into a context's "errors" map
// (§3 Result, §7 propagation policy).
type Entry struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	Traceback  string `json:"traceback,omitempty"`
}

// ToEntry converts any error into a structured Entry, naming it by its
// concrete taxonomy kind when possible.
func ToEntry(err error) Entry {
	name := "Error"
	switch err.(type) {
	case *ParamError:
		name = "ParamError"
	case *TemplateError:
		name = "TemplateError"
	case *DefinitionError:
		name = "DefinitionError"
	case *StageError:
		name = "StageError"
	case *JobError:
		name = "JobError"
	case *WorkflowError:
		name = "WorkflowError"
	case *CronParseError:
		name = "CronParseError"
	case *CronNoMatch:
		name = "CronNoMatch"
	case *Timeout:
		name = "Timeout"
	case *Cancelled:
		name = "Cancelled"
	}
	return Entry{Name: name, Message: err.Error()}
}
