// Package param implements the typed parameter model: string/int/float/
// decimal/bool/date/datetime/array/map/choice, with strict parsing and
// ParamError on failure.
package param

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/woodsbury/decimal128"

	"github.com/cloudshipai/workflow-core/internal/errs"
)

// Kind enumerates the supported parameter types.
type Kind string

const (
	KindString   Kind = "string"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindDecimal  Kind = "decimal"
	KindBool     Kind = "bool"
	KindDate     Kind = "date"
	KindDatetime Kind = "datetime"
	KindArray    Kind = "array"
	KindMap      Kind = "map"
	KindChoice   Kind = "choice"
)

// Spec describes a single declared parameter (§3).
type Spec struct {
	Name    string
	Type    Kind
	Default interface{}
	Desc    string
	Options []interface{} // for KindChoice: ordered, non-empty, unique
}

const (
	dateLayout = "2006-01-02"
)

// Coerce parses a raw input value (typically decoded JSON: string, float64,
// bool, []interface{}, map[string]interface{}, or nil) according to the
// Spec's declared Kind, returning the typed Go value or a *errs.ParamError.
func (s Spec) Coerce(raw interface{}, tz *time.Location) (interface{}, error) {
	if raw == nil {
		if s.Default != nil {
			raw = s.Default
		} else {
			return nil, nil
		}
	}

	switch s.Type {
	case KindString:
		return s.coerceString(raw)
	case KindInt:
		return s.coerceInt(raw)
	case KindFloat:
		return s.coerceFloat(raw)
	case KindDecimal:
		return s.coerceDecimal(raw)
	case KindBool:
		return s.coerceBool(raw)
	case KindDate:
		return s.coerceDate(raw, dateLayout)
	case KindDatetime:
		return s.coerceDatetime(raw, tz)
	case KindArray:
		return s.coerceArray(raw)
	case KindMap:
		return s.coerceMap(raw)
	case KindChoice:
		return s.coerceChoice(raw)
	default:
		return nil, &errs.ParamError{Name: s.Name, Type: string(s.Type), Value: raw, Message: "unknown parameter type"}
	}
}

func (s Spec) coerceString(raw interface{}) (interface{}, error) {
	if v, ok := raw.(string); ok {
		return v, nil
	}
	return fmt.Sprintf("%v", raw), nil
}

func stripSeparators(v string) string {
	return strings.ReplaceAll(v, "_", "")
}

func (s Spec) coerceInt(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, &errs.ParamError{Name: s.Name, Type: "int", Value: raw, Message: "value has a fractional part"}
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(stripSeparators(strings.TrimSpace(v)), 10, 64)
		if err != nil {
			return nil, &errs.ParamError{Name: s.Name, Type: "int", Value: raw, Message: "not a valid integer literal"}
		}
		return n, nil
	default:
		return nil, &errs.ParamError{Name: s.Name, Type: "int", Value: raw, Message: "unsupported input type"}
	}
}

func (s Spec) coerceFloat(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		text := stripSeparators(strings.TrimSpace(v))
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &errs.ParamError{Name: s.Name, Type: "float", Value: raw, Message: "not a valid float literal"}
		}
		return f, nil
	default:
		return nil, &errs.ParamError{Name: s.Name, Type: "float", Value: raw, Message: "unsupported input type"}
	}
}

func (s Spec) coerceDecimal(raw interface{}) (interface{}, error) {
	var text string
	switch v := raw.(type) {
	case string:
		text = stripSeparators(strings.TrimSpace(v))
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		text = strconv.Itoa(v)
	case int64:
		text = strconv.FormatInt(v, 10)
	default:
		return nil, &errs.ParamError{Name: s.Name, Type: "decimal", Value: raw, Message: "unsupported input type"}
	}
	d, err := decimal128.Parse(text)
	if err != nil {
		return nil, &errs.ParamError{Name: s.Name, Type: "decimal", Value: raw, Message: "not a valid decimal literal"}
	}
	return d, nil
}

func (s Spec) coerceBool(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return nil, &errs.ParamError{Name: s.Name, Type: "bool", Value: raw, Message: "not a valid boolean literal"}
}

func (s Spec) coerceDate(raw interface{}, layout string) (interface{}, error) {
	text, ok := raw.(string)
	if !ok {
		return nil, &errs.ParamError{Name: s.Name, Type: "date", Value: raw, Message: "expected an ISO 8601 date string"}
	}
	t, err := time.Parse(layout, text)
	if err != nil {
		return nil, &errs.ParamError{Name: s.Name, Type: "date", Value: raw, Message: "not a valid YYYY-MM-DD date"}
	}
	return t, nil
}

func (s Spec) coerceDatetime(raw interface{}, tz *time.Location) (interface{}, error) {
	text, ok := raw.(string)
	if !ok {
		return nil, &errs.ParamError{Name: s.Name, Type: "datetime", Value: raw, Message: "expected an ISO 8601 datetime string"}
	}
	if tz == nil {
		tz = time.UTC
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, text); err == nil {
			if t.Location() == time.UTC && !strings.Contains(text, "Z") && !strings.Contains(text, "+") {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), tz)
			}
			return t, nil
		}
	}
	return nil, &errs.ParamError{Name: s.Name, Type: "datetime", Value: raw, Message: "not a valid ISO 8601 datetime"}
}

func (s Spec) coerceArray(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case []interface{}:
		return v, nil
	case string:
		var out []interface{}
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, &errs.ParamError{Name: s.Name, Type: "array", Value: raw, Message: "not valid JSON array"}
		}
		return out, nil
	default:
		return nil, &errs.ParamError{Name: s.Name, Type: "array", Value: raw, Message: "unsupported input type"}
	}
}

func (s Spec) coerceMap(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case string:
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, &errs.ParamError{Name: s.Name, Type: "map", Value: raw, Message: "not valid JSON object"}
		}
		return out, nil
	default:
		return nil, &errs.ParamError{Name: s.Name, Type: "map", Value: raw, Message: "unsupported input type"}
	}
}

func (s Spec) coerceChoice(raw interface{}) (interface{}, error) {
	for _, opt := range s.Options {
		if fmt.Sprintf("%v", opt) == fmt.Sprintf("%v", raw) {
			return opt, nil
		}
	}
	return nil, &errs.ParamError{Name: s.Name, Type: "choice", Value: raw, Message: fmt.Sprintf("value not in declared options %v", s.Options)}
}

// CoerceAll coerces a raw params map against a set of declared Specs,
// applying defaults for any missing entries, returning the first
// ParamError encountered (§4.2 failure semantics: coercion error ->
// ParamError with the parameter name).
func CoerceAll(specs map[string]Spec, raw map[string]interface{}, tz *time.Location) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(specs))
	for name, spec := range specs {
		spec.Name = name
		v, ok := raw[name]
		var input interface{}
		if ok {
			input = v
		}
		coerced, err := spec.Coerce(input, tz)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	// Pass through any extra keys not declared by the spec, unchanged —
	// workflows may read ad hoc fields via params.<name> even if the
	// author did not declare a Spec for them.
	for k, v := range raw {
		if _, declared := specs[k]; !declared {
			out[k] = v
		}
	}
	return out, nil
}
