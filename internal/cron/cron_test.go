package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMacros(t *testing.T) {
	for expr := range macros {
		_, err := Parse(expr)
		require.NoError(t, err, expr)
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("not a cron")
	require.Error(t, err)
}

// TestDSTSpringForward exercises S4: expression "30 2 * * *" in
// America/New_York starting 2024-03-09 should skip the non-existent
// 2024-03-10 02:30 and fire next on 2024-03-11.
func TestDSTSpringForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := Parse("30 2 * * *")
	require.NoError(t, err)

	start := time.Date(2024, 3, 9, 0, 0, 0, 0, loc)
	first, err := s.Next(start)
	require.NoError(t, err)
	require.Equal(t, 2024, first.Year())
	require.Equal(t, time.March, first.Month())
	require.Equal(t, 9, first.Day())
	require.Equal(t, 2, first.Hour())
	require.Equal(t, 30, first.Minute())

	second, err := s.Next(first)
	require.NoError(t, err)
	require.Equal(t, 11, second.Day(), "2024-03-10 02:30 does not exist and must be skipped")
}

// TestRoundTrip exercises invariant 4: next(prev(t)) == next_firing_at_or_after(t).
func TestRoundTrip(t *testing.T) {
	s, err := Parse("*/15 * * * *")
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 10, 7, 0, 0, time.UTC)
	nextAtOrAfter, err := s.Next(now.Add(-time.Minute))
	require.NoError(t, err)

	prev, err := s.Prev(nextAtOrAfter.Add(time.Second))
	require.NoError(t, err)
	next, err := s.Next(prev)
	require.NoError(t, err)

	require.Equal(t, nextAtOrAfter, next)
}

func TestUnionWhenBothDOMAndDOWRestricted(t *testing.T) {
	// Fires on the 1st OR on Mondays.
	s, err := Parse("0 0 1 * MON")
	require.NoError(t, err)
	require.True(t, s.domSet && s.dowSet)

	monday := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC) // a Monday, not the 1st
	require.True(t, s.matches(monday))

	firstOfMonth := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) // a Saturday
	require.True(t, s.matches(firstOfMonth))

	neither := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC) // Sunday the 2nd
	require.False(t, s.matches(neither))
}

func TestLastDayOfMonth(t *testing.T) {
	s, err := Parse("0 0 L * *")
	require.NoError(t, err)
	require.True(t, s.matches(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))
	require.False(t, s.matches(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)))
}
