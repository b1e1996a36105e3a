package tui_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todocal/internal/calendar"
	"todocal/internal/lifecycle"
	"todocal/internal/testutil"
	"todocal/internal/tui"
)

// sendKeyAndWait sends a key message and waits briefly for processing.
func sendKeyAndWait(tm *teatest.TestModel, key tea.KeyMsg) {
	tm.Send(key)
	time.Sleep(20 * time.Millisecond)
}

// sendRunesAndWait sends a rune key message and waits briefly for processing.
func sendRunesAndWait(tm *teatest.TestModel, runes []rune) {
	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyRunes, Runes: runes})
}

func typeText(tm *teatest.TestModel, s string) {
	for _, r := range s {
		tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func mustDay(t *testing.T, key string) time.Time {
	t.Helper()
	d, err := calendar.ParseDateKey(key)
	require.NoError(t, err)
	return d
}

// Tuesday 2024-03-05 holds a synthesized Standup and a direct Dentist.
func seedStore() *calendar.Store {
	s := calendar.NewStore()
	s.Append("2024-03-04", calendar.Template{
		ID: "1", Title: "Standup", Time: "09:00",
		IsRepeating: true, RepeatType: calendar.RepeatWeekdays, OriginalDate: "2024-03-04",
	})
	s.Append("2024-03-05", calendar.Template{ID: "2", Title: "Dentist", Time: "14:00"})
	return s
}

func newModel(t *testing.T) (*tui.Model, *testutil.MemoryStore) {
	t.Helper()
	store := testutil.NewMemoryStore(seedStore())
	mgr := lifecycle.New(store)
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.Refresh(context.Background()))

	today := mustDay(t, "2024-03-05").Add(8 * time.Hour)
	m := tui.New(mgr, tui.WithClock(func() time.Time { return today }))
	t.Cleanup(m.Close)
	return m, store
}

// press feeds a key to the model and runs any resulting command once,
// feeding its message back.
func press(m *tui.Model, key string) {
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	_, cmd := m.Update(msg)
	run(m, cmd)
}

func run(m *tui.Model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case nil, tea.QuitMsg:
	case tea.BatchMsg:
		for _, c := range msg {
			run(m, c)
		}
	default:
		m.Update(msg)
	}
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return out
}

func TestParseQuickAdd(t *testing.T) {
	tests := []struct {
		in   string
		want calendar.Draft
	}{
		{"Buy milk", calendar.Draft{Title: "Buy milk"}},
		{"09:30 Standup", calendar.Draft{Title: "Standup", Time: "09:30"}},
		{"  14:00   Dentist ", calendar.Draft{Title: "Dentist", Time: "14:00"}},
		{"25:00 Not a time", calendar.Draft{Title: "25:00 Not a time"}},
		{"09:30", calendar.Draft{Title: "09:30"}},
		{"+9:05 Signed", calendar.Draft{Title: "+9:05 Signed"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, tui.ParseQuickAdd(tt.in))
		})
	}
}

func TestDayViewListsOccurrencesByTime(t *testing.T) {
	m, _ := newModel(t)

	view := m.View()
	standup := strings.Index(view, "Standup")
	dentist := strings.Index(view, "Dentist")
	require.NotEqual(t, -1, standup)
	require.NotEqual(t, -1, dentist)
	assert.Less(t, standup, dentist)
	assert.Contains(t, view, "(today)")
	assert.Contains(t, view, "0/2 done")
}

func TestDayNavigation(t *testing.T) {
	m, _ := newModel(t)

	press(m, "l")
	assert.Equal(t, calendar.DateKey("2024-03-06"), calendar.FormatDateKey(m.Date()))
	assert.NotContains(t, m.View(), "Dentist")
	assert.Contains(t, m.View(), "Standup")

	press(m, "l")
	press(m, "l")
	press(m, "l") // Saturday
	assert.Contains(t, m.View(), "No tasks")

	press(m, "t")
	assert.Equal(t, calendar.DateKey("2024-03-05"), calendar.FormatDateKey(m.Date()))

	press(m, "h")
	assert.Equal(t, calendar.DateKey("2024-03-04"), calendar.FormatDateKey(m.Date()))
}

func TestToggleSynthesizedWritesOverlay(t *testing.T) {
	m, store := newModel(t)

	press(m, "c") // Standup is first at 09:00
	assert.True(t, store.Data().Completions["1-2024-03-05"])
	assert.False(t, store.Data().Days["2024-03-04"][0].Completed)
	assert.Contains(t, m.Status(), `Completed "Standup"`)
	assert.Contains(t, m.View(), "1/2 done")

	press(m, "c")
	assert.False(t, store.Data().Completions["1-2024-03-05"])
}

func TestAddTaskWithTime(t *testing.T) {
	m, store := newModel(t)

	press(m, "a")
	for _, r := range "07:15 Gym" {
		press(m, string(r))
	}
	press(m, "enter")

	list := store.Data().Days["2024-03-05"]
	require.Len(t, list, 2)
	assert.Equal(t, "Gym", list[1].Title)
	assert.Equal(t, "07:15", list[1].Time)
	assert.Less(t, strings.Index(m.View(), "Gym"), strings.Index(m.View(), "Standup"))
}

func TestEditSynthesizedEditsTemplate(t *testing.T) {
	m, store := newModel(t)

	press(m, "e")
	assert.Contains(t, m.View(), "(all occurrences)")
	for range "Standup" {
		_, _ = m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	}
	for _, r := range "Daily sync" {
		press(m, string(r))
	}
	press(m, "enter")

	got := store.Data().Days["2024-03-04"][0]
	assert.Equal(t, "Daily sync", got.Title)
	assert.True(t, got.IsRepeating)
	assert.Equal(t, "09:00", got.Time)
}

func TestDeleteSynthesizedIsRefused(t *testing.T) {
	m, store := newModel(t)

	press(m, "d")
	assert.Contains(t, m.Status(), "2024-03-04")
	assert.NotContains(t, m.View(), "Delete")
	assert.Len(t, store.Data().Days["2024-03-04"], 1)
}

func TestDeleteDirectWithConfirm(t *testing.T) {
	m, store := newModel(t)

	press(m, "j")
	press(m, "d")
	assert.Contains(t, m.View(), `Delete "Dentist"?`)
	press(m, "n")
	assert.Len(t, store.Data().Days["2024-03-05"], 1)

	press(m, "d")
	press(m, "y")
	assert.Empty(t, store.Data().Days["2024-03-05"])
	assert.Equal(t, `Deleted "Dentist"`, m.Status())
	assert.Contains(t, m.View(), "0/1 done")
}

func TestErrorsShowInStatusBar(t *testing.T) {
	m, store := newModel(t)
	store.Hook = func(string) error { return assert.AnError }

	press(m, "c")
	assert.Contains(t, m.Status(), "Error:")
	assert.Contains(t, m.View(), "offline")
}

func TestStatusBarShowsSaving(t *testing.T) {
	store := testutil.NewMemoryStore(seedStore())
	mgr := lifecycle.New(store)
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.Refresh(context.Background()))
	m := tui.New(mgr, tui.WithClock(func() time.Time { return mustDay(t, "2024-03-05").Add(8 * time.Hour) }))
	t.Cleanup(m.Close)

	entered := make(chan struct{})
	release := make(chan struct{})
	store.Hook = func(op string) error {
		if op == "create" {
			close(entered)
			<-release
		}
		return nil
	}
	errc := make(chan error, 1)
	go func() {
		_, err := mgr.Create(context.Background(), "2024-03-05", calendar.Draft{Title: "Gym"})
		errc <- err
	}()

	<-entered
	assert.Contains(t, m.View(), "saving...")

	close(release)
	require.NoError(t, <-errc)
	assert.NotContains(t, m.View(), "saving...")
}

func TestMonthView(t *testing.T) {
	m, _ := newModel(t)

	press(m, "m")
	view := m.View()
	assert.Contains(t, view, "March 2024")
	assert.Contains(t, view, "Sun")
	assert.Contains(t, view, " 5(2)")

	press(m, "]")
	assert.Contains(t, m.View(), "April 2024")
	press(m, "[")
	press(m, "j")
	assert.Equal(t, calendar.DateKey("2024-03-12"), calendar.FormatDateKey(m.Date()))

	press(m, "enter")
	assert.Contains(t, m.View(), "Tuesday, March 12, 2024")
}

// --- Program tests ---

func TestTUILaunchAndQuit(t *testing.T) {
	m, _ := newModel(t)
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	teatest.WaitFor(t, tm.Output(), func(b []byte) bool {
		return bytes.Contains(b, []byte("Standup"))
	}, teatest.WithDuration(time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	tm.WaitFinished(t, teatest.WithFinalTimeout(time.Second))
}

func TestTUIAddTask(t *testing.T) {
	m, store := newModel(t)
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))
	time.Sleep(100 * time.Millisecond)

	sendRunesAndWait(tm, []rune{'a'})
	typeText(tm, "New test task")
	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyEnter})

	teatest.WaitFor(t, tm.Output(), func(b []byte) bool {
		return bytes.Contains(b, []byte("New test task"))
	}, teatest.WithDuration(time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	tm.WaitFinished(t, teatest.WithFinalTimeout(time.Second))

	list := store.Data().Days["2024-03-05"]
	require.Len(t, list, 2)
	assert.Equal(t, "New test task", list[1].Title)
}

func TestTUIRedrawsOnStoreChange(t *testing.T) {
	store := testutil.NewMemoryStore(seedStore())
	mgr := lifecycle.New(store)
	t.Cleanup(mgr.Close)
	require.NoError(t, mgr.Refresh(context.Background()))

	today := mustDay(t, "2024-03-05")
	m := tui.New(mgr, tui.WithClock(func() time.Time { return today }))
	t.Cleanup(m.Close)
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))
	time.Sleep(100 * time.Millisecond)

	// Another view of the same manager adds a task.
	_, err := mgr.Create(context.Background(), "2024-03-05", calendar.Draft{Title: "From elsewhere"})
	require.NoError(t, err)

	teatest.WaitFor(t, tm.Output(), func(b []byte) bool {
		return bytes.Contains(b, []byte("From elsewhere"))
	}, teatest.WithDuration(time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	tm.WaitFinished(t, teatest.WithFinalTimeout(time.Second))
}

func TestTUIKeyBindings(t *testing.T) {
	m, _ := newModel(t)
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 40))
	time.Sleep(100 * time.Millisecond)

	sendRunesAndWait(tm, []rune{'?'})
	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyEsc})
	sendRunesAndWait(tm, []rune{'q'})

	out := readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
	if !bytes.Contains(out, []byte("Key Bindings")) {
		t.Error("expected help panel to show key bindings")
	}
}
