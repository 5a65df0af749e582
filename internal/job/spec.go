package job

import (
	"time"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
	"github.com/cloudshipai/workflow-core/internal/stage"
)

// TriggerRule controls whether a job runs given its upstream (`needs`)
// statuses (§4.4, §8 testable invariant 7).
type TriggerRule string

const (
	TriggerAllSuccess  TriggerRule = "all_success"
	TriggerAllFailed   TriggerRule = "all_failed"
	TriggerAllDone     TriggerRule = "all_done"
	TriggerAnySuccess  TriggerRule = "any_success"
	TriggerAnyFailed   TriggerRule = "any_failed"
	TriggerNoneFailed  TriggerRule = "none_failed"
	TriggerNoneSkipped TriggerRule = "none_skipped"
)

// Spec is the §3 Job definition: a DAG node (via Needs) whose body is a
// stage sequence, optionally fanned out over a Strategy matrix.
type Spec struct {
	ID          string
	Name        string
	Needs       []string
	If          string
	TriggerRule TriggerRule
	Strategy    Strategy
	Stages      []stage.Spec
	Timeout     time.Duration
}

// EvaluateTriggerRule decides whether a job with the given upstream
// statuses should run (true) or be skipped (false), per §4.4's named
// trigger rules. An empty upstream set (no `needs`) always runs.
func EvaluateTriggerRule(rule TriggerRule, upstream []ctxdata.Status) bool {
	if len(upstream) == 0 {
		return true
	}
	if rule == "" {
		rule = TriggerAllSuccess
	}

	counts := map[ctxdata.Status]int{}
	for _, s := range upstream {
		counts[s]++
	}
	total := len(upstream)

	switch rule {
	case TriggerAllSuccess:
		return counts[ctxdata.SUCCESS] == total
	case TriggerAllFailed:
		return counts[ctxdata.FAILED] == total
	case TriggerAllDone:
		return true // every upstream is already terminal by construction
	case TriggerAnySuccess:
		return counts[ctxdata.SUCCESS] > 0
	case TriggerAnyFailed:
		return counts[ctxdata.FAILED] > 0
	case TriggerNoneFailed:
		return counts[ctxdata.FAILED] == 0
	case TriggerNoneSkipped:
		return counts[ctxdata.SKIP] == 0
	default:
		return counts[ctxdata.SUCCESS] == total
	}
}
