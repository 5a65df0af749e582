// Package cron implements the §4.1 cron engine: a parser for the 5/6-field
// grammar (minute hour day month dow [year]) with macros, ranges, steps,
// weekday/month names, the "L" (last day) and "?" (any) day tokens, and an
// iterator producing next/prev firing instants bounded to a 366-day
// lookahead.
//
// No third-party cron library in the example corpus (robfig/cron/v3)
// supports this grammar — it lacks "L", "?", macros beyond the standard
// five, and the day-of-month/day-of-week union rule — so the parser and
// iterator here are hand-written. See DESIGN.md for the justification.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudshipai/workflow-core/internal/errs"
)

const maxLookahead = 366 * 24 * time.Hour

var macros = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dowNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// field holds the parsed matcher for one cron field.
type field struct {
	any    bool          // "*" or "?" — matches everything
	values map[int]bool  // explicit allowed values
	isLast bool          // day-of-month "L" token present
	hadDOM bool          // day-of-month field was explicitly restricted (not * or ?)
}

func (f field) match(v int) bool {
	if f.any {
		return true
	}
	return f.values[v]
}

// Schedule is a parsed, ready-to-iterate cron expression.
type Schedule struct {
	expr    string
	minute  field
	hour    field
	dom     field
	month   field
	dow     field
	year    field
	domSet  bool // dom field explicitly restricted
	dowSet  bool // dow field explicitly restricted
}

// Parse parses a cron expression (5 or 6 fields, or an @macro) and returns
// a ready Schedule, or a *errs.CronParseError.
func Parse(expr string) (*Schedule, error) {
	original := expr
	trimmed := strings.TrimSpace(expr)
	if m, ok := macros[trimmed]; ok {
		trimmed = m
	}

	parts := strings.Fields(trimmed)
	if len(parts) != 5 && len(parts) != 6 {
		return nil, &errs.CronParseError{Expr: original, Message: fmt.Sprintf("expected 5 or 6 fields, got %d", len(parts))}
	}

	var err error
	s := &Schedule{expr: original}

	s.minute, err = parseField(parts[0], 0, 59, nil, false)
	if err != nil {
		return nil, &errs.CronParseError{Expr: original, Message: "minute: " + err.Error()}
	}
	s.hour, err = parseField(parts[1], 0, 23, nil, false)
	if err != nil {
		return nil, &errs.CronParseError{Expr: original, Message: "hour: " + err.Error()}
	}
	s.dom, err = parseField(parts[2], 1, 31, nil, true)
	if err != nil {
		return nil, &errs.CronParseError{Expr: original, Message: "day-of-month: " + err.Error()}
	}
	s.month, err = parseField(parts[3], 1, 12, monthNames, false)
	if err != nil {
		return nil, &errs.CronParseError{Expr: original, Message: "month: " + err.Error()}
	}
	s.dow, err = parseField(parts[4], 0, 6, dowNames, false)
	if err != nil {
		return nil, &errs.CronParseError{Expr: original, Message: "day-of-week: " + err.Error()}
	}
	if len(parts) == 6 {
		s.year, err = parseField(parts[5], 1970, 2200, nil, false)
		if err != nil {
			return nil, &errs.CronParseError{Expr: original, Message: "year: " + err.Error()}
		}
	} else {
		s.year = field{any: true}
	}

	s.domSet = !s.dom.any
	s.dowSet = !s.dow.any

	return s, nil
}

// parseField parses a single cron field. allowDOMTokens enables "L".
func parseField(raw string, min, max int, names map[string]int, allowDOMTokens bool) (field, error) {
	raw = strings.TrimSpace(raw)
	if raw == "*" || raw == "?" {
		return field{any: true}, nil
	}
	if allowDOMTokens && strings.EqualFold(raw, "L") {
		return field{isLast: true}, nil
	}

	f := field{values: make(map[int]bool)}
	for _, token := range strings.Split(raw, ",") {
		if err := parseToken(token, min, max, names, &f); err != nil {
			return field{}, err
		}
	}
	return f, nil
}

func parseToken(token string, min, max int, names map[string]int, f *field) error {
	step := 1
	base := token
	if idx := strings.Index(token, "/"); idx >= 0 {
		base = token[:idx]
		n, err := strconv.Atoi(token[idx+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step in %q", token)
		}
		step = n
	}

	var lo, hi int
	switch {
	case base == "*" || base == "?":
		lo, hi = min, max
	case strings.Contains(base, "-"):
		parts := strings.SplitN(base, "-", 2)
		a, err := resolveValue(parts[0], names)
		if err != nil {
			return err
		}
		b, err := resolveValue(parts[1], names)
		if err != nil {
			return err
		}
		lo, hi = a, b
	default:
		v, err := resolveValue(base, names)
		if err != nil {
			return err
		}
		lo, hi = v, v
	}

	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value range %d-%d out of bounds [%d,%d]", lo, hi, min, max)
	}

	for v := lo; v <= hi; v += step {
		f.values[v] = true
	}
	return nil
}

func resolveValue(raw string, names map[string]int) (int, error) {
	raw = strings.TrimSpace(raw)
	if names != nil {
		if v, ok := names[strings.ToUpper(raw)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	return v, nil
}

func lastDayOfMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
	return firstOfNext.AddDate(0, 0, -1).Day()
}

// domMatch applies §4.1's union/intersection rule: if both day-of-month and
// day-of-week are explicitly restricted, a candidate day matches if EITHER
// matches (union); otherwise the single restricted field (or "any") governs
// (intersection with the implicit "any" on the other field).
func (s *Schedule) domMatch(t time.Time) bool {
	domOK := s.dom.any
	if s.dom.isLast {
		domOK = t.Day() == lastDayOfMonth(t)
	} else if !s.dom.any {
		domOK = s.dom.match(t.Day())
	}
	dowOK := s.dow.any || s.dow.match(int(t.Weekday()))

	if s.domSet && s.dowSet {
		return domOK || dowOK
	}
	return domOK && dowOK
}

func (s *Schedule) matches(t time.Time) bool {
	if !s.minute.match(t.Minute()) {
		return false
	}
	if !s.hour.match(t.Hour()) {
		return false
	}
	if !s.month.match(int(t.Month())) {
		return false
	}
	if !s.year.match(t.Year()) {
		return false
	}
	return s.domMatch(t)
}

// civilExists reports whether the wall-clock time (Y,M,D,h,m,0) exists in
// loc — false during a spring-forward gap, where time.Date silently rolls
// forward into the next valid instant (§4.1 DST semantics: such firings are
// omitted).
func civilExists(year int, month time.Month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	return t, t.Hour() == hour && t.Minute() == minute && t.Day() == day && t.Month() == month
}

// Next returns the smallest instant strictly greater than t that matches
// the expression, in t's own location (callers should pass t already
// normalized to the desired timezone — see §4.1 "timezone is an explicit
// input"). Returns *errs.CronNoMatch if nothing matches within 366 days.
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	loc := t.Location()
	cursor := t.Truncate(time.Minute).Add(time.Minute)
	deadline := t.Add(maxLookahead)

	for !cursor.After(deadline) {
		candidate, exists := civilExists(cursor.Year(), cursor.Month(), cursor.Day(), cursor.Hour(), cursor.Minute(), loc)
		if !exists {
			// Non-existent civil time during a DST gap: skip forward.
			cursor = cursor.Add(time.Minute)
			continue
		}
		_, off := cursor.Zone()
		_, offBefore := cursor.Add(-3 * time.Hour).Zone()
		if offBefore > off {
			if _, o := cursor.Add(-time.Duration(offBefore-off) * time.Second).Zone(); o == offBefore {
				// Second pass through a fall-back overlap: this wall-clock
				// minute already occurred, so a repeated civil time fires
				// only at its first occurrence.
				cursor = cursor.Add(time.Minute)
				continue
			}
		}
		if s.matches(candidate) {
			return cursor, nil
		}
		cursor = cursor.Add(time.Minute)
	}
	return time.Time{}, &errs.CronNoMatch{Expr: s.expr, Bound: "366 days"}
}

// Prev is the counterpart of Next: the latest matching minute before the
// minute that contains t. t's own minute is never returned, even when t
// falls later within it.
func (s *Schedule) Prev(t time.Time) (time.Time, error) {
	loc := t.Location()
	cursor := t.Truncate(time.Minute).Add(-time.Minute)
	deadline := t.Add(-maxLookahead)

	for !cursor.Before(deadline) {
		candidate, exists := civilExists(cursor.Year(), cursor.Month(), cursor.Day(), cursor.Hour(), cursor.Minute(), loc)
		if exists && s.matches(candidate) {
			return candidate, nil
		}
		cursor = cursor.Add(-time.Minute)
	}
	return time.Time{}, &errs.CronNoMatch{Expr: s.expr, Bound: "366 days"}
}

// Expr returns the original expression string the Schedule was parsed from.
func (s *Schedule) Expr() string { return s.expr }
