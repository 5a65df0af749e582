package stage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ScriptRunner is the pluggable "py" stage contract (§3/§4.3): the core
// supplies the interface and does not prescribe a language. Source is
// executed with a locals snapshot of the current context; any name bound
// at top level at exit becomes a stage output.
type ScriptRunner interface {
	Run(ctx context.Context, source string, locals map[string]interface{}) (map[string]interface{}, error)
}

// StarlarkScriptRunner is the default ScriptRunner, reusing the same
// sandboxed interpreter as the template/condition evaluator (go.starlark.net)
// so the "py" stage needs no separate embedded runtime.
type StarlarkScriptRunner struct {
	MaxSteps uint64
}

// NewStarlarkScriptRunner returns a StarlarkScriptRunner with a bounded
// step budget.
func NewStarlarkScriptRunner() *StarlarkScriptRunner {
	return &StarlarkScriptRunner{MaxSteps: 10000}
}

func (r *StarlarkScriptRunner) Run(ctx context.Context, source string, locals map[string]interface{}) (map[string]interface{}, error) {
	thread := &starlark.Thread{Name: "py-stage"}
	thread.SetMaxExecutionSteps(r.MaxSteps)

	predeclared := make(starlark.StringDict, len(locals))
	for k, v := range locals {
		predeclared[k] = goToStarlarkValue(v)
	}

	fileOpts := &syntax.FileOptions{}
	globals, err := starlark.ExecFileOptions(fileOpts, thread, "py-stage", source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	outputs := make(map[string]interface{}, len(globals))
	for name, v := range globals {
		outputs[name] = starlarkValueToGo(v)
	}
	return outputs, nil
}

// goToStarlarkValue/starlarkValueToGo follow internal/expr's unexported
// conversion helpers, except that maps become plain starlark dicts (no
// attribute access) and time.Time has no case of its own.
func goToStarlarkValue(v interface{}) starlark.Value {
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
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			elems[i] = goToStarlarkValue(e)
		}
		return starlark.NewList(elems)
	case map[string]interface{}:
		d := starlark.NewDict(len(val))
		for k, e := range val {
			_ = d.SetKey(starlark.String(k), goToStarlarkValue(e))
		}
		return d
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

func starlarkValueToGo(v starlark.Value) interface{} {
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
	case *starlark.List:
		out := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			out[i] = starlarkValueToGo(val.Index(i))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]interface{})
		for _, item := range val.Items() {
			if k, ok := starlarkValueToGo(item[0]).(string); ok {
				out[k] = starlarkValueToGo(item[1])
			}
		}
		return out
	default:
		return val.String()
	}
}

// BashRunner executes the `bash` stage variant (§4.3): spawns a subshell
// with the resolved environment merged into the parent, captures
// stdout/stderr, and reports {return_code, stdout, stderr}. Non-zero return
// is FAILED.
type BashRunner struct{}

// Run executes script via /bin/sh -c with env merged on top of the current
// process environment.
func (BashRunner) Run(ctx context.Context, script string, env map[string]string) (returnCode int, stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runErr == nil {
		return 0, stdout, stderr, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(runErr, &exitErr); ok {
		return exitErr.ExitCode(), stdout, stderr, nil
	}
	return -1, stdout, stderr, runErr
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

var _ = strings.TrimSpace // keep strings imported for future trimming needs
