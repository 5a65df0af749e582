package job

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandEmptyStrategyYieldsOneItem(t *testing.T) {
	s := Strategy{}
	items := s.Expand()
	require.Len(t, items, 1)
	require.Empty(t, items[0])
}

func TestExpandCartesianProduct(t *testing.T) {
	s := Strategy{Matrix: map[string][]interface{}{
		"os": {"linux", "darwin"},
		"go": {"1.22", "1.23"},
	}}
	items := s.Expand()
	require.Len(t, items, 4)
	for _, it := range items {
		require.Contains(t, it, "os")
		require.Contains(t, it, "go")
	}
}

func TestExpandDeterministicOrder(t *testing.T) {
	s := Strategy{Matrix: map[string][]interface{}{
		"os": {"linux", "darwin"},
		"go": {"1.22", "1.23"},
	}}
	a := s.Expand()
	b := s.Expand()
	require.Equal(t, a, b)
}

func TestExpandExcludeDropsMatchingCombination(t *testing.T) {
	s := Strategy{
		Matrix: map[string][]interface{}{
			"os": {"linux", "darwin"},
			"go": {"1.22", "1.23"},
		},
		Exclude: []map[string]interface{}{
			{"os": "darwin", "go": "1.22"},
		},
	}
	items := s.Expand()
	require.Len(t, items, 3)
	for _, it := range items {
		require.False(t, it["os"] == "darwin" && it["go"] == "1.22")
	}
}

func TestExpandIncludeAppendsExtraCombination(t *testing.T) {
	s := Strategy{
		Matrix: map[string][]interface{}{
			"os": {"linux"},
		},
		Include: []map[string]interface{}{
			{"os": "windows", "go": "1.23"},
		},
	}
	items := s.Expand()
	require.Len(t, items, 2)
}

func TestEvaluateTriggerRuleAllSuccess(t *testing.T) {
	require.True(t, EvaluateTriggerRule(TriggerAllSuccess, nil))
}
