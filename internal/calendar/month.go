package calendar

import "time"

// GridDays is the number of cells in a month grid: six full weeks.
const GridDays = 42

// Day is one cell of a month grid.
type Day struct {
	Date    time.Time
	Key     DateKey
	InMonth bool
	IsToday bool
	Count   int
}

// MonthGrid lays out the month containing month as six weeks starting on the
// Sunday on or before the 1st. now decides which cell is today.
func MonthGrid(s *Store, month, now time.Time) []Day {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	start := first.AddDate(0, 0, -int(first.Weekday()))
	today := FormatDateKey(now)

	days := make([]Day, 0, GridDays)
	for i := 0; i < GridDays; i++ {
		d := time.Date(start.Year(), start.Month(), start.Day()+i, 0, 0, 0, 0, start.Location())
		key := FormatDateKey(d)
		days = append(days, Day{
			Date:    d,
			Key:     key,
			InMonth: d.Month() == first.Month(),
			IsToday: key == today,
			Count:   len(OccurrencesOn(s, d)),
		})
	}
	return days
}
