// Package expr implements the template & parameter resolver: ${{ }}
// expressions with variable paths, a filter pipeline, and a trailing
// @tag post-filter caller reference, evaluated against a starlark.net
// expression core (see starlark.go).
package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudshipai/workflow-core/internal/errs"
)

var templatePattern = regexp.MustCompile(`\$\{\{(.*?)\}\}`)

// Evaluator resolves templates against a data context. Its only state is
// the filter table: NewEvaluator fills it with the built-in filters and
// RegisterFilter adds or overrides entries afterwards.
type Evaluator struct {
	filters map[string]Filter
}

// NewEvaluator returns an Evaluator with the built-in filter set (§4.2)
// registered.
func NewEvaluator() *Evaluator {
	return &Evaluator{filters: builtinFilters()}
}

// RegisterFilter adds or overrides a named filter.
func (e *Evaluator) RegisterFilter(name string, fn Filter) {
	e.filters[name] = fn
}

// Parsed is the decomposed form of one ${{ ... }} template occurrence.
type Parsed struct {
	BaseExpr string
	Optional bool
	Caller   string // non-empty if a trailing "@tag" caller reference was present
}

// parseTemplateContent splits raw template content (the text between ${{
// and }}) into its optional-suffix and @tag-caller parts, returning the
// remaining pipeline (base expr + filters) as pipeline.
func parseTemplateContent(content string) (pipeline string, optional bool, caller string) {
	content = strings.TrimSpace(content)
	if strings.HasSuffix(content, "?") {
		optional = true
		content = strings.TrimSpace(strings.TrimSuffix(content, "?"))
	}
	if idx := lastTopLevelIndex(content, "@"); idx >= 0 {
		caller = strings.TrimSpace(content[idx+1:])
		content = strings.TrimSpace(content[:idx])
	}
	return content, optional, caller
}

// lastTopLevelIndex finds the last occurrence of sep not nested inside
// parens/brackets/quotes.
func lastTopLevelIndex(s, sep string) int {
	depth := 0
	inQuote := byte(0)
	last := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			last = i
		}
	}
	return last
}

// splitTopLevel splits s on sep ignoring occurrences nested inside
// parens/brackets/quotes — used both for the "|" pipeline and for
// comma-separated filter arguments.
func splitTopLevel(s, sep string) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
		}
	}
	parts = append(parts, s[start:])
	return parts
}

type filterCall struct {
	name string
	args []string
}

func parseFilterCall(segment string) filterCall {
	segment = strings.TrimSpace(segment)
	if idx := strings.Index(segment, "("); idx >= 0 && strings.HasSuffix(segment, ")") {
		name := strings.TrimSpace(segment[:idx])
		argsRaw := segment[idx+1 : len(segment)-1]
		var args []string
		if strings.TrimSpace(argsRaw) != "" {
			args = splitTopLevel(argsRaw, ",")
		}
		return filterCall{name: name, args: args}
	}
	return filterCall{name: segment}
}

// Eval evaluates one ${{ expr }} payload (without the surrounding
// delimiters) against data, running any filter pipeline. The caller tag (if
// any) is returned separately for the stage layer to invoke through its own
// registry, since this package has no knowledge of registered callers.
func (e *Evaluator) Eval(content string, data map[string]interface{}) (interface{}, string, error) {
	pipeline, optional, caller := parseTemplateContent(content)
	segments := splitTopLevel(pipeline, "|")

	base := strings.TrimSpace(segments[0])
	value, err := evalStarlark(base, data)
	if err != nil {
		if optional {
			return nil, caller, nil
		}
		return nil, "", &errs.TemplateError{Expr: content, Message: err.Error()}
	}

	for _, seg := range segments[1:] {
		call := parseFilterCall(seg)
		fn, ok := e.filters[call.name]
		if !ok {
			return nil, "", &errs.TemplateError{Expr: content, Message: fmt.Sprintf("unknown filter %q", call.name)}
		}
		args := make([]interface{}, 0, len(call.args))
		for _, a := range call.args {
			parsed, perr := parseLiteralArg(a, data)
			if perr != nil {
				return nil, "", &errs.TemplateError{Expr: content, Message: perr.Error()}
			}
			args = append(args, parsed)
		}
		value, err = fn(value, args)
		if err != nil {
			if optional {
				return nil, caller, nil
			}
			return nil, "", &errs.TemplateError{Expr: content, Message: err.Error()}
		}
	}

	return value, caller, nil
}

// EvalCondition evaluates a bare (non-${{ }}-wrapped) boolean expression,
// as used by `if`/`until`/`case` fields.
func (e *Evaluator) EvalCondition(expression string, data map[string]interface{}) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}
	v, err := evalStarlark(expression, data)
	if err != nil {
		return false, &errs.TemplateError{Expr: expression, Message: err.Error()}
	}
	return truth(v), nil
}

func truth(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return true
	}
}

// ResolveString resolves every ${{ }} occurrence in s against data. If the
// whole string is exactly one template, the raw typed value is returned
// (preserving non-string types per §4.2); otherwise each match is
// stringified and substituted in place. callerFn, if non-nil, is invoked
// for any @tag post-filter found, receiving the tag and the pipeline
// result, and must return the transformed value.
func (e *Evaluator) ResolveString(s string, data map[string]interface{}, callerFn func(tag string, value interface{}) (interface{}, error)) (interface{}, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		content := s[matches[0][2]:matches[0][3]]
		value, caller, err := e.Eval(content, data)
		if err != nil {
			return nil, err
		}
		if caller != "" && callerFn != nil {
			return callerFn(caller, value)
		}
		return value, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		content := s[m[2]:m[3]]
		value, caller, err := e.Eval(content, data)
		if err != nil {
			return nil, err
		}
		if caller != "" && callerFn != nil {
			value, err = callerFn(caller, value)
			if err != nil {
				return nil, err
			}
		}
		b.WriteString(fmt.Sprintf("%v", value))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// ResolveAny walks an arbitrary JSON-shaped value (string, map, slice, or
// scalar) and resolves every embedded template, per §4.2 "in any
// string/container".
func (e *Evaluator) ResolveAny(v interface{}, data map[string]interface{}, callerFn func(tag string, value interface{}) (interface{}, error)) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return e.ResolveString(val, data, callerFn)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			rv, err := e.ResolveAny(vv, data, callerFn)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			rv, err := e.ResolveAny(vv, data, callerFn)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}
