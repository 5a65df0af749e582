package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveIdempotentOnPlainString(t *testing.T) {
	e := NewEvaluator()
	out, err := e.ResolveString("no templates here", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "no templates here", out)
}

func TestResolveVariablePath(t *testing.T) {
	e := NewEvaluator()
	data := map[string]interface{}{
		"params": map[string]interface{}{"run_date": "2024-07-15"},
	}
	out, err := e.ResolveString("${{ params.run_date }}", data, nil)
	require.NoError(t, err)
	require.Equal(t, "2024-07-15", out)
}

func TestResolveFmtFilterOnDate(t *testing.T) {
	e := NewEvaluator()
	dt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	data := map[string]interface{}{
		"params": map[string]interface{}{"run_date": dt},
	}
	out, _, err := e.Eval(`params.run_date | fmt('%Y/%m')`, data)
	require.NoError(t, err)
	require.Equal(t, "2024/01", out)
}

func TestResolveOptionalMissingVariable(t *testing.T) {
	e := NewEvaluator()
	out, err := e.ResolveString("${{ missing.thing? }}", map[string]interface{}{}, nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestResolveMissingVariableFails(t *testing.T) {
	e := NewEvaluator()
	_, err := e.ResolveString("${{ missing.thing }}", map[string]interface{}{}, nil)
	require.Error(t, err)
}

func TestResolveFilterPipeline(t *testing.T) {
	e := NewEvaluator()
	data := map[string]interface{}{"params": map[string]interface{}{"name": "abc"}}
	out, err := e.ResolveString("${{ params.name | upper }}", data, nil)
	require.NoError(t, err)
	require.Equal(t, "ABC", out)
}

func TestResolveWholeStringPreservesType(t *testing.T) {
	e := NewEvaluator()
	data := map[string]interface{}{"matrix": map[string]interface{}{"n": int64(3)}}
	out, err := e.ResolveString("${{ matrix.n }}", data, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), out)
}

func TestResolvePartialStringSubstitution(t *testing.T) {
	e := NewEvaluator()
	data := map[string]interface{}{"matrix": map[string]interface{}{"n": int64(2)}}
	out, err := e.ResolveString("boom on ${{ matrix.n }}", data, nil)
	require.NoError(t, err)
	require.Equal(t, "boom on 2", out)
}
