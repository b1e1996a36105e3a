package calendar

import (
	"slices"
	"strings"
	"time"
)

// ShouldRecur reports whether template t, stored under anchorKey, produces a
// synthesized occurrence on target. It is the only definition of recurrence:
// every view and the notification scheduler go through it.
func ShouldRecur(t Template, target time.Time, anchorKey DateKey) bool {
	if !t.IsRepeating {
		return false
	}
	anchor, err := anchorKey.Time()
	if err != nil {
		return false
	}

	daysDiff := DaysBetween(anchor, target)
	if daysDiff <= 0 {
		// the anchor day is covered by the template itself
		return false
	}

	switch t.RepeatType {
	case RepeatDaily:
		return true
	case RepeatWeekly:
		return daysDiff%7 == 0
	case RepeatWeekdays:
		// Mon..Fri regardless of alignment with the anchor
		wd := target.Weekday()
		return wd >= time.Monday && wd <= time.Friday
	case RepeatCustom:
		return t.RepeatsOn(target.Weekday())
	default:
		return false
	}
}

// OccurrencesOn returns every occurrence on date: the templates anchored on
// that day in storage order, followed by synthesized instances of repeating
// templates from other days in ascending date-key order.
func OccurrencesOn(s *Store, date time.Time) []Occurrence {
	if s == nil {
		return nil
	}
	dateKey := FormatDateKey(date)

	var out []Occurrence
	for _, t := range s.Days[dateKey] {
		out = append(out, Direct{Template: t, On: dateKey})
	}

	for _, k := range s.DateKeys() {
		if k == dateKey {
			continue
		}
		for _, t := range s.Days[k] {
			if !t.IsRepeating || !ShouldRecur(t, date, k) {
				continue
			}
			out = append(out, Synthesized{
				Template:  t,
				On:        dateKey,
				From:      k,
				Completed: s.Completions[InstanceKey(t.ID, dateKey)],
			})
		}
	}
	return out
}

// SortByTime orders occurrences by their "HH:MM" time; untimed occurrences
// come first and ties keep their expansion order.
func SortByTime(occ []Occurrence) []Occurrence {
	out := slices.Clone(occ)
	slices.SortStableFunc(out, func(a, b Occurrence) int {
		return strings.Compare(a.Task().Time, b.Task().Time)
	})
	return out
}

// FindOccurrence returns the occurrence on date whose ID is id.
func FindOccurrence(s *Store, date time.Time, id string) (Occurrence, bool) {
	for _, o := range OccurrencesOn(s, date) {
		if o.ID() == id {
			return o, true
		}
	}
	return nil, false
}

// Stats summarises one day.
type Stats struct {
	Total     int
	Completed int
}

// DayStats counts the occurrences on date and how many are completed.
func DayStats(s *Store, date time.Time) Stats {
	var st Stats
	for _, o := range OccurrencesOn(s, date) {
		st.Total++
		if o.IsCompleted() {
			st.Completed++
		}
	}
	return st
}
