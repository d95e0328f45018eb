package domain

import (
	"fmt"
	"time"
)

// CivilDate is a calendar day in some user's local timezone. It is the key
// granularity of one reminder cycle: exactly one ReminderInstance may exist
// per (user, CivilDate).
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

// CivilDateOf returns the civil date of t as observed in loc.
func CivilDateOf(t time.Time, loc *time.Location) CivilDate {
	lt := t.In(loc)
	return CivilDate{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()}
}

// ParseCivilDate parses the storage form YYYY-MM-DD.
func ParseCivilDate(s string) (CivilDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return CivilDate{}, fmt.Errorf("civil date %q: %w", s, err)
	}
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// String returns the storage form YYYY-MM-DD.
func (d CivilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// IsZero reports whether d is the zero value.
func (d CivilDate) IsZero() bool { return d == CivilDate{} }

// Next returns the following calendar day. time.Date normalizes overflow, so
// month and year boundaries need no special casing.
func (d CivilDate) Next() CivilDate {
	t := time.Date(d.Year, d.Month, d.Day+1, 0, 0, 0, 0, time.UTC)
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Weekday returns the day of week of d.
func (d CivilDate) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

// Before reports whether d is strictly earlier than other.
func (d CivilDate) Before(other CivilDate) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// At returns the instant at hour:minute on d in loc. Nonexistent local times
// (spring-forward gap) map to the next valid instant and ambiguous local
// times (fall-back) map to the first occurrence, which are the resolution
// rules this package documents for DST boundaries.
func (d CivilDate) At(hour, minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, loc)
}
