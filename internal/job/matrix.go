// Package job implements the §4.4 job executor: matrix/strategy expansion,
// per-item stage pipelines, fail-fast cancellation of sibling items, and
// trigger_rule evaluation against upstream job statuses.
package job

import (
	"sort"

	"github.com/cloudshipai/workflow-core/internal/ctxdata"
)

// Strategy is the §3 matrix/strategy spec attached to a Job.
type Strategy struct {
	Matrix      map[string][]interface{}
	Include     []map[string]interface{}
	Exclude     []map[string]interface{}
	MaxParallel int
	FailFast    bool
}

// Item is one expanded strategy combination, e.g. {"os": "linux", "go": "1.22"}.
type Item map[string]interface{}

// Expand computes the deterministic, ordered list of matrix items (§8
// testable invariant 3): the Cartesian product of s.Matrix dimensions (keys
// sorted for determinism, values in declaration order), with Exclude
// entries dropped and Include entries appended, each as an additional
// combination. An empty strategy (no Matrix, no Include) yields exactly one
// empty item, matching a Job with no `strategy:` block running once.
func (s Strategy) Expand() []Item {
	if len(s.Matrix) == 0 {
		if len(s.Include) == 0 {
			return []Item{{}}
		}
		items := make([]Item, 0, len(s.Include))
		for _, inc := range s.Include {
			items = append(items, Item(cloneMap(inc)))
		}
		return items
	}

	dims := make([]string, 0, len(s.Matrix))
	for k := range s.Matrix {
		dims = append(dims, k)
	}
	sort.Strings(dims)

	items := []Item{{}}
	for _, dim := range dims {
		values := s.Matrix[dim]
		next := make([]Item, 0, len(items)*len(values))
		for _, base := range items {
			for _, v := range values {
				item := Item(cloneMap(map[string]interface{}(base)))
				item[dim] = v
				next = append(next, item)
			}
		}
		items = next
	}

	filtered := make([]Item, 0, len(items))
	for _, item := range items {
		if !matchesAny(item, s.Exclude) {
			filtered = append(filtered, item)
		}
	}

	for _, inc := range s.Include {
		filtered = append(filtered, Item(cloneMap(inc)))
	}

	return filtered
}

// matchesAny reports whether item agrees with every key present in any one
// exclude entry (a partial match excludes the item, per the common
// GitHub-Actions-style matrix semantics this spec's Glossary borrows from).
func matchesAny(item Item, excludes []map[string]interface{}) bool {
	for _, ex := range excludes {
		if matchesAll(item, ex) {
			return true
		}
	}
	return false
}

func matchesAll(item Item, filter map[string]interface{}) bool {
	for k, v := range filter {
		iv, ok := item[k]
		if !ok || !equalScalar(iv, v) {
			return false
		}
	}
	return true
}

func equalScalar(a, b interface{}) bool {
	return a == b
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AggregateItems folds per-item terminal statuses into the job's overall
// status using the shared §3 lattice.
func AggregateItems(statuses []ctxdata.Status) ctxdata.Status {
	return ctxdata.Aggregate(statuses)
}
