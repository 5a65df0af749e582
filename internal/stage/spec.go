// Package stage implements the stage executors: one variant per stage kind
// sharing the retry/timeout/skip-if contract, plus a handful of auxiliary
// variants (wait/set/get/transform/http/pass/succeed/fail/try).
package stage

import "time"

// Kind identifies a stage variant.
type Kind string

const (
	KindEmpty     Kind = "empty"
	KindBash      Kind = "bash"
	KindPy        Kind = "py"
	KindCall      Kind = "call"
	KindTrigger   Kind = "trigger"
	KindParallel  Kind = "parallel"
	KindForeach   Kind = "foreach"
	KindCase      Kind = "case"
	KindUntil     Kind = "until"
	KindRaise     Kind = "raise"
	KindTry       Kind = "try"       // try/catch/finally
	KindWait      Kind = "wait"
	KindSet       Kind = "set"
	KindGet       Kind = "get"
	KindTransform Kind = "transform"
	KindHTTP      Kind = "http"
	KindPass      Kind = "pass"
	KindSucceed   Kind = "succeed"
	KindFail      Kind = "fail"
)

// OnError is the §4.3 failure-absorption policy.
type OnError string

const (
	OnErrorRaise  OnError = "raise"
	OnErrorSkip   OnError = "skip"
	OnErrorIgnore OnError = "ignore"
)

// CaseBranch is one arm of a `case` stage's `match` list.
type CaseBranch struct {
	Case   interface{} // literal value, or "_" for default
	Stages []Spec
}

// Spec is the tagged-variant Stage definition (§3 "Stage"). Every stage
// carries the shared fields; only the fields relevant to Kind are
// populated. Name/ID are literal, never templated (§3 "Per-stage
// invariant").
type Spec struct {
	Name    string
	ID      string
	Kind    Kind
	If      string
	Retry   int
	Timeout time.Duration
	OnError OnError
	RunsOn  string

	// empty
	Echo  string
	Sleep float64

	// bash
	Bash string
	Env  map[string]string

	// py
	Run string

	// call
	Uses string
	With map[string]interface{}

	// trigger
	Trigger       string
	TriggerParams map[string]interface{}

	// parallel
	Branches    map[string][]Spec
	MaxParallel int

	// foreach
	Foreach       string
	Stages        []Spec
	Concurrent    int
	UseIndexAsKey bool

	// case
	Case         string
	Match        []CaseBranch
	SkipNotMatch bool

	// until
	Until   string
	MaxLoop int

	// raise / fail
	Message string

	// try
	Catch   []Spec
	Finally []Spec

	// wait (seconds)
	Wait float64

	// set/get
	Path  string
	Value interface{}

	// transform: expression producing the new value
	Transform string

	// http
	HTTPMethod  string
	HTTPURL     string
	HTTPHeaders map[string]string
	HTTPBody    string
}

// DeriveID returns ID if set, else a slug derived from Name. Dispatcher's
// StageDefaultID (CORE_STAGE_DEFAULT_ID) governs whether callers fall back
// to this when ID is empty; see Dispatcher.deriveID.
func (s Spec) DeriveID() string {
	if s.ID != "" {
		return s.ID
	}
	return slug(s.Name)
}

func slug(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '_')
		}
	}
	return string(out)
}
