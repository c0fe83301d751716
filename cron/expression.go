package cron

import (
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// starBit mirrors robfig/cron's marker for a wildcard field. It participates
// in the day-of-month/day-of-week union rule below.
const starBit = 1 << 63

// searchYears bounds the occurrence search. Expressions with no match inside
// this horizon (e.g. "0 0 30 2 *") are reported as having no next occurrence.
const searchYears = 5

// Expression is a parsed 5-field cron expression. It is immutable and safe
// for concurrent use.
type Expression struct {
	source string
	spec   *robfig.SpecSchedule
}

// Parse validates and compiles a 5-field cron expression.
//
// The expression must consist of exactly five whitespace-separated fields:
// minute, hour, day-of-month, month, day-of-week. Descriptors ("@daily"),
// "@every" durations, and CRON_TZ/TZ prefixes are rejected with
// [ErrUnsupportedForm].
func Parse(expr string) (*Expression, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	if strings.HasPrefix(trimmed, "@") {
		return nil, fmt.Errorf("%w: descriptors are not accepted, got %q", ErrUnsupportedForm, trimmed)
	}
	if strings.HasPrefix(trimmed, "CRON_TZ=") || strings.HasPrefix(trimmed, "TZ=") {
		return nil, fmt.Errorf("%w: zone prefixes are not accepted, got %q", ErrUnsupportedForm, trimmed)
	}
	if n := len(strings.Fields(trimmed)); n != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d in %q", ErrInvalidExpression, n, trimmed)
	}

	sched, err := robfig.ParseStandard(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, trimmed, err)
	}
	spec, ok := sched.(*robfig.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedForm, trimmed)
	}

	return &Expression{source: trimmed, spec: spec}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// compile-time-constant expressions.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the normalized source expression.
func (e *Expression) String() string {
	return e.source
}

// NextAfter returns the smallest UTC instant strictly after the given
// instant whose wall-clock projection in loc matches the expression. The
// second return value is false when no occurrence exists within the search
// horizon. A nil loc evaluates in UTC.
func (e *Expression) NextAfter(after time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	after = after.UTC()

	// The search walks candidate wall-clock values. Wall times are carried
	// as UTC-located time.Time values so that arithmetic on them is pure
	// civil-calendar arithmetic, untouched by the target zone's offsets.
	local := after.In(loc)
	wall := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, time.UTC)
	wall = wall.Add(time.Minute)
	limit := wall.AddDate(searchYears, 0, 0)

	for wall.Before(limit) {
		if e.spec.Month&(1<<uint(wall.Month())) == 0 {
			wall = time.Date(wall.Year(), wall.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			continue
		}
		if !e.dayMatches(wall) {
			wall = time.Date(wall.Year(), wall.Month(), wall.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			continue
		}
		if e.spec.Hour&(1<<uint(wall.Hour())) == 0 {
			wall = wall.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if e.spec.Minute&(1<<uint(wall.Minute())) == 0 {
			wall = wall.Add(time.Minute)
			continue
		}

		if inst, ok := realize(wall, loc, after); ok {
			return inst, true
		}
		wall = wall.Add(time.Minute)
	}
	return time.Time{}, false
}

// dayMatches applies the classic cron union rule: when both day-of-month and
// day-of-week are restricted, a day matching either fires; when at least one
// is a wildcard, both must match.
func (e *Expression) dayMatches(wall time.Time) bool {
	dom := e.spec.Dom&(1<<uint(wall.Day())) != 0
	dow := e.spec.Dow&(1<<uint(wall.Weekday())) != 0
	if e.spec.Dom&starBit != 0 || e.spec.Dow&starBit != 0 {
		return dom && dow
	}
	return dom || dow
}

// realize maps a matching wall-clock value into a concrete UTC instant in
// loc, resolving DST gaps and ambiguities. It reports false when the only
// realizations are not strictly after the reference instant.
func realize(wall time.Time, loc *time.Location, after time.Time) (time.Time, bool) {
	t := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), 0, 0, loc)

	if !sameWall(t.In(loc), wall) {
		// The wall time falls in a spring-forward gap; time.Date normalized
		// it to a different clock reading. Fire at the first instant after
		// the transition instead.
		if b := gapEnd(t); b.After(after) {
			return b.UTC(), true
		}
		return time.Time{}, false
	}

	// The wall time exists. During a fall-back transition it occurs twice;
	// prefer the earlier occurrence regardless of which one time.Date chose.
	for _, delta := range []time.Duration{time.Hour, 30 * time.Minute} {
		if alt := t.Add(-delta); sameWall(alt.In(loc), wall) {
			t = alt
			break
		}
	}
	if t.After(after) {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// sameWall reports whether two times carry the same calendar reading down to
// the minute, ignoring their locations.
func sameWall(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// gapEnd locates the first instant after the DST transition surrounding
// approx, at minute granularity. approx must lie within three hours of the
// transition, which holds for every normalization time.Date performs on a
// non-existent wall time.
func gapEnd(approx time.Time) time.Time {
	lo := approx.Add(-3 * time.Hour).Truncate(time.Minute)
	hi := approx.Add(3 * time.Hour).Truncate(time.Minute)
	_, offLo := lo.Zone()
	for hi.Sub(lo) > time.Minute {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Minute)
		if _, off := mid.Zone(); off == offLo {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}
