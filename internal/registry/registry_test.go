package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUsesSplitsNamespaceNameTag(t *testing.T) {
	ns, name, tag, err := ParseUses("http/request@v2")
	require.NoError(t, err)
	require.Equal(t, "http", ns)
	require.Equal(t, "request", name)
	require.Equal(t, "v2", tag)
}

func TestParseUsesDefaultsTagEmpty(t *testing.T) {
	ns, name, tag, err := ParseUses("http/request")
	require.NoError(t, err)
	require.Equal(t, "http", ns)
	require.Equal(t, "request", name)
	require.Equal(t, "", tag)
}

func TestParseUsesRejectsMissingSlash(t *testing.T) {
	_, _, _, err := ParseUses("request@v2")
	require.Error(t, err)
}

func TestRegisterAndResolveDefaultsToLatestTag(t *testing.T) {
	r := New()
	r.Register("http", "request", "", Signature{}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return args, nil
	})

	d, err := r.Resolve("http/request")
	require.NoError(t, err)
	require.Equal(t, "http", d.Namespace)
	require.Equal(t, "request", d.Name)
}

func TestResolveUnknownUsesReturnsError(t *testing.T) {
	r := New()
	_, err := r.Resolve("ns/nothing")
	require.Error(t, err)
}

func TestValidateArgsRejectsUnknownArgument(t *testing.T) {
	sig := Signature{Args: []ArgSpec{{Name: "url", Required: true}}}
	_, err := ValidateArgs(sig, map[string]interface{}{"url": "x", "bogus": 1})
	require.Error(t, err)
}

func TestValidateArgsRejectsMissingRequired(t *testing.T) {
	sig := Signature{Args: []ArgSpec{{Name: "url", Required: true}, {Name: "method"}}}
	_, err := ValidateArgs(sig, map[string]interface{}{"method": "GET"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "url")
}

func TestCallInvokesResolvedDescriptorWithValidatedArgs(t *testing.T) {
	r := New()
	r.Register("ns", "echo", "", Signature{Args: []ArgSpec{{Name: "msg", Required: true}}},
		func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echoed": args["msg"]}, nil
		})

	out, err := r.Call(context.Background(), "ns/echo", map[string]interface{}{"msg": "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi", out["echoed"])
}

func TestCallPropagatesResolveError(t *testing.T) {
	r := New()
	_, err := r.Call(context.Background(), "ns/missing", nil)
	require.Error(t, err)
}
