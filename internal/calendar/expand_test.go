package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todocal/internal/calendar"
)

func day(t *testing.T, key string) time.Time {
	t.Helper()
	d, err := calendar.ParseDateKey(key)
	require.NoError(t, err)
	return d
}

func storeWith(anchor calendar.DateKey, templates ...calendar.Template) *calendar.Store {
	s := calendar.NewStore()
	for _, tpl := range templates {
		s.Append(anchor, tpl)
	}
	return s
}

func repeating(id string, rt calendar.RepeatType, anchor calendar.DateKey, days ...time.Weekday) calendar.Template {
	return calendar.Template{
		ID:           id,
		Title:        "task " + id,
		IsRepeating:  true,
		RepeatType:   rt,
		RepeatDays:   days,
		OriginalDate: anchor,
	}
}

func TestShouldRecurNeverOnOrBeforeAnchor(t *testing.T) {
	anchor := calendar.DateKey("2024-01-10")
	for _, rt := range calendar.RepeatTypes {
		tpl := repeating("1", rt, anchor, time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
		t.Run(string(rt), func(t *testing.T) {
			assert.False(t, calendar.ShouldRecur(tpl, day(t, "2024-01-10"), anchor), "anchor day")
			for i := 1; i <= 14; i++ {
				d := day(t, "2024-01-10").AddDate(0, 0, -i)
				assert.False(t, calendar.ShouldRecur(tpl, d, anchor), "before anchor: %s", calendar.FormatDateKey(d))
			}
		})
	}
}

func TestShouldRecurDaily(t *testing.T) {
	anchor := calendar.DateKey("2024-01-01")
	tpl := repeating("1", calendar.RepeatDaily, anchor)
	for i := 1; i <= 60; i++ {
		d := day(t, "2024-01-01").AddDate(0, 0, i)
		assert.True(t, calendar.ShouldRecur(tpl, d, anchor), calendar.FormatDateKey(d))
	}
}

func TestShouldRecurWeekly(t *testing.T) {
	anchor := calendar.DateKey("2024-01-01")
	tpl := repeating("1", calendar.RepeatWeekly, anchor)

	assert.True(t, calendar.ShouldRecur(tpl, day(t, "2024-01-08"), anchor))
	assert.False(t, calendar.ShouldRecur(tpl, day(t, "2024-01-09"), anchor))
	assert.True(t, calendar.ShouldRecur(tpl, day(t, "2024-01-15"), anchor))

	for i := 1; i <= 35; i++ {
		d := day(t, "2024-01-01").AddDate(0, 0, i)
		assert.Equal(t, i%7 == 0, calendar.ShouldRecur(tpl, d, anchor), calendar.FormatDateKey(d))
	}
}

func TestShouldRecurWeekdaysIgnoresRepeatDays(t *testing.T) {
	anchor := calendar.DateKey("2024-03-02") // Saturday
	tpl := repeating("1", calendar.RepeatWeekdays, anchor, time.Saturday)

	assert.False(t, calendar.ShouldRecur(tpl, day(t, "2024-03-03"), anchor), "Sunday")
	assert.True(t, calendar.ShouldRecur(tpl, day(t, "2024-03-04"), anchor), "Monday right after a weekend anchor")
	assert.True(t, calendar.ShouldRecur(tpl, day(t, "2024-03-08"), anchor), "Friday")
	assert.False(t, calendar.ShouldRecur(tpl, day(t, "2024-03-09"), anchor), "Saturday even though listed in RepeatDays")
}

func TestShouldRecurCustomAcrossTwoWeeks(t *testing.T) {
	anchor := calendar.DateKey("2024-01-01")
	tpl := repeating("1", calendar.RepeatCustom, anchor, time.Monday, time.Wednesday, time.Friday)

	start := day(t, "2024-01-02")
	for i := 0; i < 14; i++ {
		d := start.AddDate(0, 0, i)
		wd := d.Weekday()
		want := wd == time.Monday || wd == time.Wednesday || wd == time.Friday
		assert.Equal(t, want, calendar.ShouldRecur(tpl, d, anchor), "%s (%s)", calendar.FormatDateKey(d), wd)
	}
}

func TestShouldRecurRejectsUnknownAndNonRepeating(t *testing.T) {
	anchor := calendar.DateKey("2024-01-01")
	target := day(t, "2024-01-08")

	unknown := repeating("1", calendar.RepeatType("monthly"), anchor)
	assert.False(t, calendar.ShouldRecur(unknown, target, anchor))

	plain := repeating("2", calendar.RepeatDaily, anchor)
	plain.IsRepeating = false
	assert.False(t, calendar.ShouldRecur(plain, target, anchor))

	assert.False(t, calendar.ShouldRecur(repeating("3", calendar.RepeatDaily, anchor), target, "not-a-date"))
}

func TestShouldRecurAcrossDSTBoundary(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	tpl := repeating("1", calendar.RepeatWeekly, "2024-03-03")
	// 2024-03-10 is the spring-forward day; a naive 24h division would yield 6.
	target := time.Date(2024, 3, 10, 0, 30, 0, 0, loc)
	assert.True(t, calendar.ShouldRecur(tpl, target, "2024-03-03"))
}

func TestOccurrencesOnNonRepeatingOnlyOnAnchor(t *testing.T) {
	tpl := calendar.Template{ID: "a", Title: "Dentist", Time: "10:00"}
	s := storeWith("2024-05-10", tpl)

	occ := calendar.OccurrencesOn(s, day(t, "2024-05-10"))
	require.Len(t, occ, 1)
	direct, ok := occ[0].(calendar.Direct)
	require.True(t, ok)
	assert.Equal(t, tpl, direct.Template)

	for i := 1; i <= 10; i++ {
		assert.Empty(t, calendar.OccurrencesOn(s, day(t, "2024-05-10").AddDate(0, 0, i)))
		assert.Empty(t, calendar.OccurrencesOn(s, day(t, "2024-05-10").AddDate(0, 0, -i)))
	}
}

func TestOccurrencesOnDailyExactlyOncePerDay(t *testing.T) {
	s := storeWith("2024-05-10", repeating("a", calendar.RepeatDaily, "2024-05-10"))

	for i := 1; i <= 30; i++ {
		occ := calendar.OccurrencesOn(s, day(t, "2024-05-10").AddDate(0, 0, i))
		require.Len(t, occ, 1)
		syn, ok := occ[0].(calendar.Synthesized)
		require.True(t, ok)
		assert.Equal(t, "a", syn.TemplateID())
		assert.Equal(t, calendar.DateKey("2024-05-10"), syn.Anchor())
	}
}

func TestOccurrencesOnOrder(t *testing.T) {
	s := calendar.NewStore()
	s.Append("2024-05-01", repeating("early", calendar.RepeatDaily, "2024-05-01"))
	s.Append("2024-05-03", calendar.Template{ID: "own-1", Title: "own one"})
	s.Append("2024-05-03", calendar.Template{ID: "own-2", Title: "own two"})
	s.Append("2024-05-02", repeating("mid-1", calendar.RepeatDaily, "2024-05-02"))
	s.Append("2024-05-02", repeating("mid-2", calendar.RepeatDaily, "2024-05-02"))

	occ := calendar.OccurrencesOn(s, day(t, "2024-05-03"))
	ids := make([]string, 0, len(occ))
	for _, o := range occ {
		ids = append(ids, o.TemplateID())
	}
	assert.Equal(t, []string{"own-1", "own-2", "early", "mid-1", "mid-2"}, ids)
}

func TestSynthesizedCompletionComesFromOverlay(t *testing.T) {
	tpl := repeating("a", calendar.RepeatDaily, "2024-05-10")
	tpl.Completed = true
	s := storeWith("2024-05-10", tpl)
	s.Completions[calendar.InstanceKey("a", "2024-05-12")] = true

	occ := calendar.OccurrencesOn(s, day(t, "2024-05-11"))
	require.Len(t, occ, 1)
	assert.False(t, occ[0].IsCompleted(), "template flag must not leak into instances")
	assert.Equal(t, "a-2024-05-11", occ[0].ID())

	occ = calendar.OccurrencesOn(s, day(t, "2024-05-12"))
	require.Len(t, occ, 1)
	assert.True(t, occ[0].IsCompleted())
	assert.True(t, occ[0].Task().Completed)
	assert.Equal(t, calendar.DateKey("2024-05-10"), occ[0].Task().OriginalDate)
}

func TestSortByTime(t *testing.T) {
	s := calendar.NewStore()
	s.Append("2024-05-10", calendar.Template{ID: "b", Title: "b", Time: "14:00"})
	s.Append("2024-05-10", calendar.Template{ID: "none", Title: "none"})
	s.Append("2024-05-10", calendar.Template{ID: "a", Title: "a", Time: "09:30"})

	sorted := calendar.SortByTime(calendar.OccurrencesOn(s, day(t, "2024-05-10")))
	var ids []string
	for _, o := range sorted {
		ids = append(ids, o.ID())
	}
	assert.Equal(t, []string{"none", "a", "b"}, ids)
}

func TestDayStats(t *testing.T) {
	s := calendar.NewStore()
	s.Append("2024-05-10", calendar.Template{ID: "x", Title: "x", Completed: true})
	s.Append("2024-05-10", calendar.Template{ID: "y", Title: "y"})
	s.Append("2024-05-09", repeating("r", calendar.RepeatDaily, "2024-05-09"))
	s.Completions["r-2024-05-10"] = true

	assert.Equal(t, calendar.Stats{Total: 3, Completed: 2}, calendar.DayStats(s, day(t, "2024-05-10")))
}

func TestStandupScenario(t *testing.T) {
	standup := calendar.Template{
		ID:           "1",
		Title:        "Standup",
		Time:         "09:00",
		IsRepeating:  true,
		RepeatType:   calendar.RepeatWeekdays,
		OriginalDate: "2024-03-04",
	}
	s := storeWith("2024-03-04", standup)

	assert.Empty(t, calendar.OccurrencesOn(s, day(t, "2024-03-09")), "Saturday")

	occ := calendar.OccurrencesOn(s, day(t, "2024-03-05"))
	require.Len(t, occ, 1)
	require.True(t, calendar.IsSynthesized(occ[0]))
	assert.False(t, occ[0].IsCompleted())
	assert.Equal(t, "1-2024-03-05", occ[0].InstanceKey())

	s.Completions[occ[0].InstanceKey()] = true
	occ = calendar.OccurrencesOn(s, day(t, "2024-03-05"))
	require.Len(t, occ, 1)
	assert.True(t, occ[0].IsCompleted())

	anchorOcc := calendar.OccurrencesOn(s, day(t, "2024-03-04"))
	require.Len(t, anchorOcc, 1)
	assert.False(t, anchorOcc[0].IsCompleted())
}
