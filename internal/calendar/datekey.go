// Package calendar expands date-anchored task templates into the occurrences
// that exist on a given day.
//
// Everything in this package is pure: no I/O, no clocks. Callers pass the
// date they are interested in (and "now" where a view needs it).
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DateKeyLayout is the storage layout of a date key.
const DateKeyLayout = "2006-01-02"

// DateKey identifies a local calendar day, formatted YYYY-MM-DD.
type DateKey string

// FormatDateKey returns the date key of t in t's own location.
func FormatDateKey(t time.Time) DateKey {
	return DateKey(t.Format(DateKeyLayout))
}

// ParseDateKey parses s as a date key and returns local midnight of that day.
func ParseDateKey(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateKeyLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", s, err)
	}
	return t, nil
}

// IsDateKey reports whether s is a well-formed date key.
func IsDateKey(s string) bool {
	if len(s) != len(DateKeyLayout) {
		return false
	}
	_, err := time.Parse(DateKeyLayout, s)
	return err == nil
}

// Time returns local midnight of the day k names.
func (k DateKey) Time() (time.Time, error) {
	return ParseDateKey(string(k))
}

// String implements fmt.Stringer.
func (k DateKey) String() string {
	return string(k)
}

// DaysBetween returns the number of calendar days from `from` to `to`.
// Only the Y/M/D of each argument is used, so DST shifts and wall-clock
// offsets never change the count.
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	// Unix seconds, not Duration: Sub saturates after ~292 years.
	return int((b.Unix() - a.Unix()) / 86400)
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextMidnight returns the first instant of the day after t.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// ClockLayout is the layout of a template's time of day.
const ClockLayout = "15:04"

// FormatClock returns t's wall-clock time as "HH:MM".
func FormatClock(t time.Time) string {
	return t.Format(ClockLayout)
}

// ParseClock validates an "HH:MM" string and returns minutes since midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' || !isDigit(s[0]) || !isDigit(s[1]) || !isDigit(s[3]) || !isDigit(s[4]) {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	if h > 23 {
		return 0, fmt.Errorf("invalid time %q: hour out of range", s)
	}
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if m > 59 {
		return 0, fmt.Errorf("invalid time %q: minute out of range", s)
	}
	return h*60 + m, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// MinuteOfDay returns minutes since midnight of t's wall clock.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
