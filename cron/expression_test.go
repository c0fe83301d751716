package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		expr string
		ok   bool
	}{
		{name: "every minute", expr: "* * * * *", ok: true},
		{name: "fixed time", expr: "30 2 * * *", ok: true},
		{name: "ranges and steps", expr: "*/15 9-17 * * 1-5", ok: true},
		{name: "lists", expr: "0 0 1,15 * *", ok: true},
		{name: "named fields", expr: "0 12 * jan mon", ok: true},
		{name: "surrounding whitespace", expr: "  0 0 * * *  ", ok: true},
		{name: "empty", expr: "", ok: false},
		{name: "garbage", expr: "not a cron", ok: false},
		{name: "too few fields", expr: "* * * *", ok: false},
		{name: "too many fields", expr: "* * * * * *", ok: false},
		{name: "minute out of range", expr: "61 * * * *", ok: false},
		{name: "month out of range", expr: "0 0 * 13 *", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if tt.ok {
				require.NoError(t, err)
				require.NotNil(t, e)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidExpression)
			assert.Nil(t, e)
		})
	}
}

func TestParseRejectsUnsupportedForms(t *testing.T) {
	for _, expr := range []string{"@daily", "@every 5m", "@yearly", "CRON_TZ=Asia/Tokyo 0 0 * * *", "TZ=UTC 0 0 * * *"} {
		_, err := Parse(expr)
		require.Error(t, err, expr)
		assert.ErrorIs(t, err, ErrUnsupportedForm, expr)
	}
}

func TestMustParsePanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
	assert.NotPanics(t, func() { MustParse("0 0 * * *") })
}

func TestNextAfterUTC(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "next minute",
			expr:  "* * * * *",
			after: time.Date(2024, 6, 1, 10, 30, 15, 0, time.UTC),
			want:  time.Date(2024, 6, 1, 10, 31, 0, 0, time.UTC),
		},
		{
			name:  "strictly after an exact match",
			expr:  "30 10 * * *",
			after: time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC),
			want:  time.Date(2024, 6, 2, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "later the same day",
			expr:  "0 18 * * *",
			after: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC),
		},
		{
			name:  "month rollover",
			expr:  "0 0 1 * *",
			after: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "weekday restriction",
			expr:  "0 9 * * 1",
			after: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), // a Saturday
			want:  time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "step minutes",
			expr:  "*/15 * * * *",
			after: time.Date(2024, 6, 1, 10, 16, 0, 0, time.UTC),
			want:  time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "leap day",
			expr:  "0 0 29 2 *",
			after: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := MustParse(tt.expr)
			got, ok := e.NextAfter(tt.after, time.UTC)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Both day fields restricted: the classic union rule fires on either.
func TestNextAfterDayUnionRule(t *testing.T) {
	e := MustParse("0 0 13 * 5") // 13th of the month OR any Friday

	// 2024-09-01 is a Sunday; the first Friday is the 6th, before the 13th.
	after := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	got, ok := e.NextAfter(after, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 9, 6, 0, 0, 0, 0, time.UTC), got)

	// From the 7th the 13th (a Friday) comes first, matching both.
	after = time.Date(2024, 9, 7, 0, 0, 0, 0, time.UTC)
	got, ok = e.NextAfter(after, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 9, 13, 0, 0, 0, 0, time.UTC), got)
}

func TestNextAfterZoneProjection(t *testing.T) {
	tokyo := mustLoc(t, "Asia/Tokyo")
	e := MustParse("0 9 * * *")

	// 09:00 in Tokyo is 00:00 UTC.
	after := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	got, ok := e.NextAfter(after, tokyo)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), got)
}

// Spring forward: 2024-03-10 in America/New_York has no 02:30 local. The
// schedule resolves to the first existing instant after the gap, 03:00 EDT.
func TestNextAfterSpringForwardGap(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	e := MustParse("30 2 * * *")

	after := time.Date(2024, 3, 10, 1, 0, 0, 0, ny) // 06:00Z
	got, ok := e.NextAfter(after.UTC(), ny)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC), got)
	assert.Equal(t, "03:00", got.In(ny).Format("15:04"))

	// The day after, the schedule is back to its normal wall time.
	got2, ok := e.NextAfter(got, ny)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 11, 6, 30, 0, 0, time.UTC), got2)
}

// Fall back: 2024-11-03 in America/New_York has two 01:30 local readings.
// The earlier (daylight-time, 05:30Z) occurrence is chosen, and the repeated
// reading an hour later does not produce a second fire.
func TestNextAfterFallBackAmbiguity(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	e := MustParse("30 1 * * *")

	after := time.Date(2024, 11, 3, 4, 0, 0, 0, time.UTC) // 00:00 EDT
	got, ok := e.NextAfter(after, ny)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC), got)

	// Advancing past the first occurrence skips the 06:30Z duplicate and
	// lands on the next day.
	got2, ok := e.NextAfter(got.Add(time.Second), ny)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 4, 6, 30, 0, 0, time.UTC), got2)
}

func TestNextAfterNoFutureOccurrence(t *testing.T) {
	e := MustParse("0 0 30 2 *") // February 30th never exists

	_, ok := e.NextAfter(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.False(t, ok)
}

func TestNextAfterMonotonic(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	e := MustParse("*/20 * * * *")

	// Walk across the fall-back transition; every step must be strictly
	// increasing.
	cur := time.Date(2024, 11, 3, 3, 0, 0, 0, time.UTC)
	for range 20 {
		next, ok := e.NextAfter(cur, ny)
		require.True(t, ok)
		require.True(t, next.After(cur), "next %v not after %v", next, cur)
		cur = next
	}
}

func TestNextAfterNilLocationDefaultsToUTC(t *testing.T) {
	e := MustParse("0 0 * * *")
	got, ok := e.NextAfter(time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC), nil)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), got)
}
