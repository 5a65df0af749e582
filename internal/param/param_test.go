package param

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflow-core/internal/errs"
)

func TestCoerceIntAcceptsUnderscoreSeparators(t *testing.T) {
	spec := Spec{Name: "n", Type: KindInt}
	v, err := spec.Coerce("1_000_000", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1000000), v)
}

func TestCoerceIntRejectsFractional(t *testing.T) {
	spec := Spec{Name: "n", Type: KindInt}
	_, err := spec.Coerce(3.5, nil)
	require.Error(t, err)
	var pe *errs.ParamError
	require.ErrorAs(t, err, &pe)
}

func TestCoerceDateStrict(t *testing.T) {
	spec := Spec{Name: "run_date", Type: KindDate}
	v, err := spec.Coerce("2024-07-15", nil)
	require.NoError(t, err)
	require.Equal(t, 2024, v.(time.Time).Year())

	_, err = spec.Coerce("not-a-date", nil)
	require.Error(t, err)
}

func TestCoerceChoiceRejectsUnknownOption(t *testing.T) {
	spec := Spec{Name: "env", Type: KindChoice, Options: []interface{}{"dev", "prod"}}
	v, err := spec.Coerce("dev", nil)
	require.NoError(t, err)
	require.Equal(t, "dev", v)

	_, err = spec.Coerce("staging", nil)
	require.Error(t, err)
}

func TestCoerceDecimalExactArithmeticInput(t *testing.T) {
	spec := Spec{Name: "price", Type: KindDecimal}
	v, err := spec.Coerce("19.99", nil)
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestCoerceAllAppliesDefaultsAndPassesThroughUndeclared(t *testing.T) {
	specs := map[string]Spec{
		"run_date": {Type: KindDate, Default: "2024-01-01"},
	}
	out, err := CoerceAll(specs, map[string]interface{}{"extra": "kept"}, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 2024, out["run_date"].(time.Time).Year())
	require.Equal(t, "kept", out["extra"])
}

func TestCoerceAllSurfacesParamErrorWithName(t *testing.T) {
	specs := map[string]Spec{"run_date": {Type: KindDate}}
	_, err := CoerceAll(specs, map[string]interface{}{"run_date": "not-a-date"}, time.UTC)
	require.Error(t, err)
	var pe *errs.ParamError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "run_date", pe.Name)
}
