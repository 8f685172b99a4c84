// Package timeutil provides calendar-date utilities for the series timezone.
// Ranking works with whole dates: event dates, snapshot dates and reference
// dates are all represented as midnight UTC of the calendar day, while "today"
// is resolved in the series timezone (Europe/Stockholm by default).
package timeutil

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is the timezone the series calendar lives in.
const DefaultTimezone = "Europe/Stockholm"

var (
	locMu    sync.RWMutex
	location = loadLocation(DefaultTimezone)
)

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SetLocation changes the timezone used to resolve "today".
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	locMu.Lock()
	location = loc
	locMu.Unlock()
	return nil
}

// Location returns the series timezone.
func Location() *time.Location {
	locMu.RLock()
	defer locMu.RUnlock()
	return location
}

// nowFunc is replaced in tests.
var nowFunc = time.Now

// Now returns the current time in the series timezone.
func Now() time.Time {
	return nowFunc().In(Location())
}

// Today returns the current calendar date in the series timezone as a date value.
func Today() time.Time {
	return DateOf(Now())
}

// Date creates a date value (midnight UTC) for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf strips the clock from t, keeping t's calendar day in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// StartOfMonth returns the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return Date(y, m, 1)
}

// AddMonths shifts a date by n calendar months.
// Overflowing days are normalized the way time.AddDate does (Mar 31 - 1 month = Mar 3).
func AddMonths(t time.Time, n int) time.Time {
	return DateOf(t).AddDate(0, n, 0)
}

// MonthsBetween returns the calendar month difference between two dates,
// computed from year and month only: (toY*12 + toM) - (fromY*12 + fromM).
// The day of month is ignored, so 2024-01-31 and 2024-02-01 are one month apart.
func MonthsBetween(from, to time.Time) int {
	fy, fm, _ := from.Date()
	ty, tm, _ := to.Date()
	return (ty*12 + int(tm)) - (fy*12 + int(fm))
}

// Common date formats.
const (
	DateFormat  = "2006-01-02"
	MonthFormat = "2006-01"
)

// FormatDate formats a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// ParseDate parses a YYYY-MM-DD string into a date value.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return t, nil
}
