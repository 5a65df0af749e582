package expr

import (
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// attrDict exposes a Go map[string]interface{} to Starlark both as a
// mapping (subscript) and via attribute access (params.run_date), which is
// what lets variable-path expressions read naturally.
type attrDict struct {
	dict *starlark.Dict
}

var (
	_ starlark.Value      = (*attrDict)(nil)
	_ starlark.Mapping    = (*attrDict)(nil)
	_ starlark.HasAttrs   = (*attrDict)(nil)
	_ starlark.Iterable   = (*attrDict)(nil)
	_ starlark.Comparable = (*attrDict)(nil)
)

func newAttrDict(data map[string]interface{}) *attrDict {
	dict := starlark.NewDict(len(data))
	for k, v := range data {
		_ = dict.SetKey(starlark.String(k), goToStarlark(v))
	}
	return &attrDict{dict: dict}
}

func (d *attrDict) String() string        { return d.dict.String() }
func (d *attrDict) Type() string          { return "attrdict" }
func (d *attrDict) Freeze()                { d.dict.Freeze() }
func (d *attrDict) Truth() starlark.Bool  { return d.dict.Truth() }
func (d *attrDict) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: attrdict") }

func (d *attrDict) Get(key starlark.Value) (starlark.Value, bool, error) { return d.dict.Get(key) }
func (d *attrDict) Iterate() starlark.Iterator                            { return d.dict.Iterate() }

func (d *attrDict) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other, ok := y.(*attrDict)
	if !ok {
		return false, nil
	}
	return starlark.Compare(op, d.dict, other.dict)
}

func (d *attrDict) Attr(name string) (starlark.Value, error) {
	val, found, err := d.dict.Get(starlark.String(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, starlark.NoSuchAttrError(fmt.Sprintf("no field %q", name))
	}
	return val, nil
}

func (d *attrDict) AttrNames() []string {
	var names []string
	for _, item := range d.dict.Items() {
		if key, ok := item[0].(starlark.String); ok {
			names = append(names, string(key))
		}
	}
	sort.Strings(names)
	return names
}

func (d *attrDict) Items() []starlark.Tuple { return d.dict.Items() }

// starlarkTime wraps a time.Time so date/datetime params round-trip through
// the evaluator untouched, letting filters like `fmt` see the typed value
// instead of its default Go string form.
type starlarkTime struct {
	t time.Time
}

var _ starlark.Value = starlarkTime{}

func (t starlarkTime) String() string        { return t.t.Format(time.RFC3339) }
func (t starlarkTime) Type() string          { return "time" }
func (t starlarkTime) Freeze()               {}
func (t starlarkTime) Truth() starlark.Bool  { return starlark.Bool(!t.t.IsZero()) }
func (t starlarkTime) Hash() (uint32, error) { return uint32(t.t.UnixNano()), nil }

const defaultMaxSteps = 10000

// evalStarlark parses and evaluates a single expression against data,
// bounding runaway expressions with SetMaxExecutionSteps.
func evalStarlark(expression string, data map[string]interface{}) (interface{}, error) {
	thread := &starlark.Thread{Name: "expr"}
	thread.SetMaxExecutionSteps(defaultMaxSteps)

	globals := make(starlark.StringDict, len(data))
	for k, v := range data {
		globals[k] = goToStarlark(v)
	}

	fileOpts := syntax.FileOptions{}
	parsed, err := fileOpts.ParseExpr("expr", expression, 0)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	result, err := starlark.EvalExprOptions(&fileOpts, thread, parsed, globals)
	if err != nil {
		return nil, fmt.Errorf("eval error: %w", err)
	}
	return starlarkToGo(result), nil
}

func goToStarlark(v interface{}) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case time.Time:
		return starlarkTime{t: val}
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, elem := range val {
			elems[i] = goToStarlark(elem)
		}
		return starlark.NewList(elems)
	case map[string]interface{}:
		return newAttrDict(val)
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

func starlarkToGo(v starlark.Value) interface{} {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(val)
	case starlark.Int:
		i, _ := val.Int64()
		return i
	case starlark.Float:
		return float64(val)
	case starlark.String:
		return string(val)
	case starlarkTime:
		return val.t
	case *starlark.List:
		result := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			result[i] = starlarkToGo(val.Index(i))
		}
		return result
	case *starlark.Dict:
		result := make(map[string]interface{})
		for _, item := range val.Items() {
			if key, ok := starlarkToGo(item[0]).(string); ok {
				result[key] = starlarkToGo(item[1])
			}
		}
		return result
	case *attrDict:
		result := make(map[string]interface{})
		for _, item := range val.Items() {
			if key, ok := starlarkToGo(item[0]).(string); ok {
				result[key] = starlarkToGo(item[1])
			}
		}
		return result
	default:
		return val.String()
	}
}

// GetNestedValue resolves a dot-path against a nested Go map, e.g.
// "stages.step1.outputs.count".
func GetNestedValue(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return data, true
	}
	return walkPath(data, path)
}

func walkPath(current interface{}, path string) (interface{}, bool) {
	parts := splitDots(path)
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// SetNestedValue writes value at a dot-path into data, creating
// intermediate maps as needed. Used by the `set` stage variant to inject a
// value into the run context.
func SetNestedValue(data map[string]interface{}, path string, value interface{}) {
	parts := splitDots(path)
	m := data
	for i, part := range parts {
		if i == len(parts)-1 {
			m[part] = value
			return
		}
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[part] = next
		}
		m = next
	}
}

func splitDots(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}
