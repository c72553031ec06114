// Package period holds the calendar helpers used for billing dates and
// statement periods. All dates are UTC midnights.
package period

import (
	"fmt"
	"time"
)

const Layout = "2006-01-02"

// Date truncates t to its calendar date in UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseOptionalDate returns nil for an empty string.
func ParseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Month returns the first and last day of a calendar month.
func Month(year int, month time.Month) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}

// Contains reports whether the date of t lies in [start, end], inclusive.
func Contains(start, end, t time.Time) bool {
	d := Date(t)
	return !d.Before(Date(start)) && !d.After(Date(end))
}

// EndOfDay is the last instant of end's date, for comparing timestamps
// against an inclusive end date.
func EndOfDay(end time.Time) time.Time {
	return Date(end).Add(24*time.Hour - time.Nanosecond)
}

// Validate checks that start is not after end.
func Validate(start, end time.Time) error {
	if Date(start).After(Date(end)) {
		return fmt.Errorf("period start %s is after end %s", start.Format(Layout), end.Format(Layout))
	}
	return nil
}
