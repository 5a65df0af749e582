// Package workflow implements the workflow executor: job DAG construction
// and cycle detection, concurrent scheduling of ready jobs, workflow-level
// timeout with a grace period, and overall status aggregation. State is
// kept in memory for the lifetime of a run; persistence is limited to the
// trace/audit sink.
package workflow

import (
	"fmt"
	"time"

	"github.com/cloudshipai/workflow-core/internal/errs"
	"github.com/cloudshipai/workflow-core/internal/job"
	"github.com/cloudshipai/workflow-core/internal/param"
)

// Spec is the top-level §3 Workflow definition: a named parameter schema
// plus a job DAG wired through job.Spec.Needs.
type Spec struct {
	Name        string
	Params      map[string]param.Spec
	Jobs        map[string]job.Spec
	Timeout     time.Duration
	GracePeriod time.Duration
	Schedule    string // cron expression, empty if event/manual only
	Timezone    string
}

// Validate checks the job graph for unknown `needs` references and cycles,
// returning a *errs.DefinitionError. Engine.Execute calls it at the start of
// every run.
func (s Spec) Validate() error {
	for id, j := range s.Jobs {
		for _, dep := range j.Needs {
			if _, ok := s.Jobs[dep]; !ok {
				return &errs.DefinitionError{Code: "unknown_dependency", Subject: id, Message: fmt.Sprintf("needs unknown job %q", dep)}
			}
		}
	}
	return detectCycle(s.Jobs)
}

// detectCycle runs the standard three-color DFS cycle check over the needs
// graph.
func detectCycle(jobs map[string]job.Spec) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(jobs))
	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch color[id] {
		case gray:
			return &errs.DefinitionError{Code: "cycle", Subject: id, Message: fmt.Sprintf("dependency cycle detected: %v -> %s", path, id)}
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range jobs[id].Needs {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for id := range jobs {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
