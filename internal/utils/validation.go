package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"todocal/internal/calendar"
)

// relativePattern matches relative date formats like +7d, -3d, +2w, +1m
var relativePattern = regexp.MustCompile(`^([+-])(\d+)([dwm])$`)

// parseRelativeDate parses relative date strings like "today", "tomorrow", "yesterday", "+7d", "-3d", "+2w", "+1m".
// Returns ok=false if the string is not a relative date format.
func parseRelativeDate(dateStr string, now time.Time) (time.Time, bool, error) {
	today := calendar.StartOfDay(now)

	lower := strings.ToLower(dateStr)

	switch lower {
	case "today":
		return today, true, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), true, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), true, nil
	}

	// Check for relative format (+/-Nd, +/-Nw, +/-Nm)
	matches := relativePattern.FindStringSubmatch(lower)
	if matches == nil {
		return time.Time{}, false, nil
	}

	num, err := strconv.Atoi(matches[2])
	if err != nil {
		return time.Time{}, false, ErrInvalidDate(dateStr)
	}
	if matches[1] == "-" {
		num = -num
	}

	switch matches[3] {
	case "w":
		return today.AddDate(0, 0, num*7), true, nil
	case "m":
		return today.AddDate(0, num, 0), true, nil
	default:
		return today.AddDate(0, 0, num), true, nil
	}
}

// ParseDateFlag parses a date supporting both relative and absolute formats.
// Supported relative formats: today, tomorrow, yesterday, +Nd, -Nd, +Nw, +Nm
// Supported absolute format: YYYY-MM-DD
// An empty string means today.
func ParseDateFlag(dateStr string, now time.Time) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return calendar.StartOfDay(now), nil
	}

	t, ok, err := parseRelativeDate(dateStr, now)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return t, nil
	}

	parsed, err := calendar.ParseDateKey(dateStr)
	if err != nil {
		return time.Time{}, ErrInvalidDate(dateStr)
	}
	return parsed, nil
}

// ParseMonthFlag parses YYYY-MM; an empty string means the month of now.
func ParseMonthFlag(monthStr string, now time.Time) (time.Time, error) {
	monthStr = strings.TrimSpace(monthStr)
	if monthStr == "" {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	}
	parsed, err := time.ParseInLocation("2006-01", monthStr, time.Local)
	if err != nil {
		return time.Time{}, ErrInvalidMonth(monthStr)
	}
	return parsed, nil
}

// ValidateClock validates an optional "HH:MM" time of day.
func ValidateClock(s string) error {
	if s == "" {
		return nil
	}
	if _, err := calendar.ParseClock(s); err != nil {
		return ErrInvalidTime(s)
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekdays parses a comma-separated list of weekday indices (0 = Sunday)
// or names. Duplicates are dropped; order follows first appearance.
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var days []time.Weekday
	seen := make(map[time.Weekday]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		wd, ok := weekdayNames[part]
		if !ok {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || n > 6 {
				return nil, ErrInvalidWeekday(part)
			}
			wd = time.Weekday(n)
		}
		if !seen[wd] {
			seen[wd] = true
			days = append(days, wd)
		}
	}
	return days, nil
}
