// Package period implements inclusive calendar-day ranges and the partition
// functions used to seed and narrow date-scoped searches.
//
// All ranges are inclusive on both ends, which matches the remote search
// syntax "created:2023-01-01..2023-01-05". Partitions are therefore gap-free
// and non-overlapping: [2023-01-01, 2023-01-05] followed by
// [2023-01-06, 2023-01-10], never sharing a boundary day.
package period

import (
	"fmt"
	"time"
)

// Layout is the textual form of a Date.
const Layout = "2006-01-02"

// Date is a calendar day without time-of-day or zone.
// The zero value is 0001-01-01.
type Date struct {
	t time.Time
}

// NewDate returns the date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is like ParseDate but panics on malformed input.
// Intended for constants and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.t.Format(Layout)
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return d.t
}

// StartOfDay returns the first instant of the day in UTC.
func (d Date) StartOfDay() time.Time {
	return d.t
}

// EndOfDay returns the last second of the day in UTC.
func (d Date) EndOfDay() time.Time {
	return d.t.Add(24*time.Hour - time.Second)
}

// AddDays returns the date n days later (earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns the number of whole days from a to b.
// Negative when b is before a.
func DaysBetween(a, b Date) int {
	// Unix seconds instead of Sub, whose Duration saturates past ~292 years.
	return int((b.t.Unix() - a.t.Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60
