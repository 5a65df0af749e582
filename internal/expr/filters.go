package expr

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Filter is a registered pipeline function (§4.2: "filters are registered
// functions with a typed signature"). It receives the running pipeline
// value plus any literal arguments parsed from the template text.
type Filter func(value interface{}, args []interface{}) (interface{}, error)

// builtinFilters mirrors the list named in §4.2: upper, lower,
// default(value), len, keys, values, coalesce(a,b,...), abspath,
// fmt(pattern), tojson.
func builtinFilters() map[string]Filter {
	return map[string]Filter{
		"upper": func(v interface{}, _ []interface{}) (interface{}, error) {
			return strings.ToUpper(fmt.Sprintf("%v", v)), nil
		},
		"lower": func(v interface{}, _ []interface{}) (interface{}, error) {
			return strings.ToLower(fmt.Sprintf("%v", v)), nil
		},
		"default": func(v interface{}, args []interface{}) (interface{}, error) {
			if isEmpty(v) && len(args) > 0 {
				return args[0], nil
			}
			return v, nil
		},
		"len": func(v interface{}, _ []interface{}) (interface{}, error) {
			switch val := v.(type) {
			case string:
				return int64(len(val)), nil
			case []interface{}:
				return int64(len(val)), nil
			case map[string]interface{}:
				return int64(len(val)), nil
			default:
				return int64(0), nil
			}
		},
		"keys": func(v interface{}, _ []interface{}) (interface{}, error) {
			m, ok := v.(map[string]interface{})
			if !ok {
				return []interface{}{}, nil
			}
			names := make([]string, 0, len(m))
			for k := range m {
				names = append(names, k)
			}
			sort.Strings(names)
			out := make([]interface{}, len(names))
			for i, n := range names {
				out[i] = n
			}
			return out, nil
		},
		"values": func(v interface{}, _ []interface{}) (interface{}, error) {
			m, ok := v.(map[string]interface{})
			if !ok {
				return []interface{}{}, nil
			}
			names := make([]string, 0, len(m))
			for k := range m {
				names = append(names, k)
			}
			sort.Strings(names)
			out := make([]interface{}, len(names))
			for i, n := range names {
				out[i] = m[n]
			}
			return out, nil
		},
		"coalesce": func(v interface{}, args []interface{}) (interface{}, error) {
			if !isEmpty(v) {
				return v, nil
			}
			for _, a := range args {
				if !isEmpty(a) {
					return a, nil
				}
			}
			return nil, nil
		},
		"abspath": func(v interface{}, _ []interface{}) (interface{}, error) {
			s, ok := v.(string)
			if !ok {
				return v, nil
			}
			abs, err := filepath.Abs(s)
			if err != nil {
				return nil, err
			}
			return abs, nil
		},
		"fmt": func(v interface{}, args []interface{}) (interface{}, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("fmt filter requires a pattern argument")
			}
			pattern, _ := args[0].(string)
			switch val := v.(type) {
			case time.Time:
				return val.Format(strftimeToGo(pattern)), nil
			default:
				return fmt.Sprintf("%v", v), nil
			}
		},
		"tojson": func(v interface{}, _ []interface{}) (interface{}, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		},
	}
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}

// strftimeToGo converts the handful of strftime-style directives the S5
// scenario exercises ("%Y/%m") into Go's reference-time layout.
func strftimeToGo(pattern string) string {
	replacer := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
	)
	return replacer.Replace(pattern)
}

// parseLiteralArg parses a single filter-call argument from template
// source text: a quoted string, a bare number/bool, or a dotted variable
// path resolved against data.
func parseLiteralArg(raw string, data map[string]interface{}) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if (strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'")) ||
		(strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`)) {
		return raw[1 : len(raw)-1], nil
	}
	if raw == "true" {
		return true, nil
	}
	if raw == "false" {
		return false, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	if v, ok := GetNestedValue(data, raw); ok {
		return v, nil
	}
	return raw, nil
}
