// Package tui provides a terminal calendar for viewing and managing tasks.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"todocal/internal/calendar"
)

// Manager is the subset of lifecycle.Manager the TUI drives.
type Manager interface {
	Snapshot() *calendar.Store
	OccurrencesOn(date time.Time) []calendar.Occurrence
	Online() bool
	Busy() bool
	Subscribe() (<-chan struct{}, func())
	Refresh(ctx context.Context) error
	Template(ref calendar.Occurrence) (calendar.Template, error)
	Create(ctx context.Context, dateKey calendar.DateKey, draft calendar.Draft) (calendar.Template, error)
	Edit(ctx context.Context, ref calendar.Occurrence, draft calendar.Draft) (calendar.Template, error)
	ToggleCompletion(ctx context.Context, ref calendar.Occurrence) (bool, error)
	Delete(ctx context.Context, ref calendar.Occurrence) error
}

// View selects the main pane
type View int

const (
	ViewDay View = iota
	ViewMonth
)

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAdd
	ModeEdit
	ModeHelp
	ModeConfirmDelete
)

// Option configures a Model.
type Option func(*Model)

// WithClock replaces time.Now, which decides "today".
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithDate opens the TUI on date instead of today.
func WithDate(date time.Time) Option {
	return func(m *Model) { m.date = calendar.StartOfDay(date) }
}

// Model represents the TUI state
type Model struct {
	manager Manager
	ctx     context.Context
	now     func() time.Time

	changes     <-chan struct{}
	unsubscribe func()

	// Data
	date        time.Time
	occurrences []calendar.Occurrence
	stats       calendar.Stats

	// Selection
	cursor int
	view   View

	// Mode and input
	mode      Mode
	textInput textinput.Model
	status    string

	// UI dimensions
	width  int
	height int

	// Styles
	paneStyle      lipgloss.Style
	selectedStyle  lipgloss.Style
	completedStyle lipgloss.Style
	repeatStyle    lipgloss.Style
	todayStyle     lipgloss.Style
	dimStyle       lipgloss.Style
	helpStyle      lipgloss.Style
	dialogStyle    lipgloss.Style
	statusBarStyle lipgloss.Style
	errorStyle     lipgloss.Style
}

// Message types
type storeChangedMsg struct{}

type actionDoneMsg struct {
	status string
}

type errMsg struct {
	err error
}

// New creates a new TUI model
func New(mgr Manager, opts ...Option) *Model {
	ti := textinput.New()
	ti.Placeholder = "Enter text..."
	ti.CharLimit = 256

	m := &Model{
		manager:   mgr,
		ctx:       context.Background(),
		now:       time.Now,
		textInput: ti,
		mode:      ModeNormal,
		view:      ViewDay,
		paneStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		completedStyle: lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("240")),
		repeatStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		todayStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.date.IsZero() {
		m.date = calendar.StartOfDay(m.now())
	}
	m.changes, m.unsubscribe = mgr.Subscribe()
	m.reload()
	return m
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return m.waitForChange()
}

// Close releases the change subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Date returns the selected day.
func (m *Model) Date() time.Time {
	return m.date
}

// Status returns the last status line message.
func (m *Model) Status() string {
	return m.status
}

func (m *Model) waitForChange() tea.Cmd {
	changes := m.changes
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

// reload recomputes the selected day from the manager's snapshot.
func (m *Model) reload() {
	m.occurrences = calendar.SortByTime(m.manager.OccurrencesOn(m.date))
	m.stats = calendar.DayStats(m.manager.Snapshot(), m.date)
	if m.cursor >= len(m.occurrences) {
		m.cursor = len(m.occurrences) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) selected() (calendar.Occurrence, bool) {
	if len(m.occurrences) == 0 || m.cursor >= len(m.occurrences) {
		return nil, false
	}
	return m.occurrences[m.cursor], true
}

func (m *Model) setDate(d time.Time) {
	m.date = calendar.StartOfDay(d)
	m.cursor = 0
	m.reload()
}

func (m *Model) createTask(input string) tea.Cmd {
	draft := ParseQuickAdd(input)
	key := calendar.FormatDateKey(m.date)
	return func() tea.Msg {
		t, err := m.manager.Create(m.ctx, key, draft)
		if err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{fmt.Sprintf("Added %q", t.Title)}
	}
}

func (m *Model) editTask(ref calendar.Occurrence, title string) tea.Cmd {
	return func() tea.Msg {
		t, err := m.manager.Template(ref)
		if err != nil {
			return errMsg{err}
		}
		draft := calendar.DraftOf(t)
		draft.Title = title
		updated, err := m.manager.Edit(m.ctx, ref, draft)
		if err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{fmt.Sprintf("Updated %q", updated.Title)}
	}
}

func (m *Model) toggleTask(ref calendar.Occurrence) tea.Cmd {
	return func() tea.Msg {
		done, err := m.manager.ToggleCompletion(m.ctx, ref)
		if err != nil {
			return errMsg{err}
		}
		if done {
			return actionDoneMsg{fmt.Sprintf("Completed %q", ref.Task().Title)}
		}
		return actionDoneMsg{fmt.Sprintf("Reopened %q", ref.Task().Title)}
	}
}

func (m *Model) deleteTask(ref calendar.Occurrence) tea.Cmd {
	return func() tea.Msg {
		if err := m.manager.Delete(m.ctx, ref); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{fmt.Sprintf("Deleted %q", ref.Task().Title)}
	}
}

func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		if err := m.manager.Refresh(m.ctx); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{"Refreshed"}
	}
}

// ParseQuickAdd reads "HH:MM title" or just "title" into a draft.
func ParseQuickAdd(input string) calendar.Draft {
	input = strings.TrimSpace(input)
	if clock, rest, ok := strings.Cut(input, " "); ok {
		if _, err := calendar.ParseClock(clock); err == nil && strings.TrimSpace(rest) != "" {
			return calendar.Draft{Title: strings.TrimSpace(rest), Time: clock}
		}
	}
	return calendar.Draft{Title: input}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case storeChangedMsg:
		m.reload()
		return m, m.waitForChange()

	case actionDoneMsg:
		m.status = msg.status
		m.reload()
		return m, nil

	case errMsg:
		m.status = "Error: " + msg.err.Error()
		m.reload()
		return m, nil

	case tea.KeyMsg:
		// Handle mode-specific input
		switch m.mode {
		case ModeAdd:
			return m.handleAddMode(msg)
		case ModeEdit:
			return m.handleEditMode(msg)
		case ModeHelp:
			return m.handleHelpMode(msg)
		case ModeConfirmDelete:
			return m.handleConfirmDeleteMode(msg)
		}

		if m.view == ViewMonth {
			return m.handleMonthKeys(msg)
		}
		return m.handleDayKeys(msg)
	}

	if m.mode == ModeAdd || m.mode == ModeEdit {
		m.textInput, cmd = m.textInput.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleDayKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.occurrences)-1 {
			m.cursor++
		}
	case "left", "h":
		m.setDate(m.date.AddDate(0, 0, -1))
	case "right", "l":
		m.setDate(m.date.AddDate(0, 0, 1))
	case "t":
		m.setDate(m.now())
	case "m", "tab":
		m.view = ViewMonth

	case "a":
		m.mode = ModeAdd
		m.textInput.Reset()
		m.textInput.Placeholder = "HH:MM title, or just a title"
		m.textInput.Focus()
		return m, textinput.Blink

	case "e":
		if occ, ok := m.selected(); ok {
			m.mode = ModeEdit
			m.textInput.Reset()
			m.textInput.SetValue(occ.Task().Title)
			m.textInput.Focus()
			return m, textinput.Blink
		}

	case "c", " ":
		if occ, ok := m.selected(); ok {
			return m, m.toggleTask(occ)
		}

	case "d":
		if occ, ok := m.selected(); ok {
			if calendar.IsSynthesized(occ) {
				m.status = "Repeating occurrences can only be removed by deleting the original task on " + string(occ.Anchor())
				return m, nil
			}
			m.mode = ModeConfirmDelete
		}

	case "r":
		return m, m.refresh()

	case "?":
		m.mode = ModeHelp
	}
	return m, nil
}

func (m *Model) handleMonthKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "left", "h":
		m.setDate(m.date.AddDate(0, 0, -1))
	case "right", "l":
		m.setDate(m.date.AddDate(0, 0, 1))
	case "up", "k":
		m.setDate(m.date.AddDate(0, 0, -7))
	case "down", "j":
		m.setDate(m.date.AddDate(0, 0, 7))
	case "[":
		m.setDate(m.date.AddDate(0, -1, 0))
	case "]":
		m.setDate(m.date.AddDate(0, 1, 0))
	case "t":
		m.setDate(m.now())
	case "enter", "m", "tab", "esc":
		m.view = ViewDay
	case "?":
		m.mode = ModeHelp
	}
	return m, nil
}

func (m *Model) handleAddMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		value := m.textInput.Value()
		m.mode = ModeNormal
		if strings.TrimSpace(value) != "" {
			return m, m.createTask(value)
		}
		return m, nil

	case tea.KeyEsc:
		m.mode = ModeNormal
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleEditMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		value := strings.TrimSpace(m.textInput.Value())
		m.mode = ModeNormal
		if occ, ok := m.selected(); ok && value != "" {
			return m, m.editTask(occ, value)
		}
		return m, nil

	case tea.KeyEsc:
		m.mode = ModeNormal
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleHelpMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyEnter:
		m.mode = ModeNormal
		return m, nil
	}

	if msg.String() == "q" || msg.String() == "?" {
		m.mode = ModeNormal
	}
	return m, nil
}

func (m *Model) handleConfirmDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = ModeNormal
		if occ, ok := m.selected(); ok {
			return m, m.deleteTask(occ)
		}
		return m, nil

	case "n", "N", "esc":
		m.mode = ModeNormal
		return m, nil
	}

	if msg.Type == tea.KeyEsc {
		m.mode = ModeNormal
	}
	return m, nil
}

// View renders the TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}

	// Overlay dialogs
	switch m.mode {
	case ModeAdd:
		return m.renderInputDialog("Add task on "+m.date.Format("Mon Jan 2"), "Enter: confirm  Esc: cancel")
	case ModeEdit:
		title := "Edit Task"
		if occ, ok := m.selected(); ok {
			title = "Edit: " + occ.Task().Title
			if calendar.IsSynthesized(occ) {
				title += " (all occurrences)"
			}
		}
		return m.renderInputDialog(title, "Enter: confirm  Esc: cancel")
	case ModeHelp:
		return m.renderHelpDialog()
	case ModeConfirmDelete:
		return m.renderConfirmDeleteDialog()
	}

	var body string
	if m.view == ViewMonth {
		body = m.renderMonth()
	} else {
		body = m.renderDay(m.width - 6)
	}
	pane := m.paneStyle.Width(m.width - 2).Height(m.height - 4).Render(body)

	var b strings.Builder
	b.WriteString(pane)
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderDay(width int) string {
	var b strings.Builder
	header := m.date.Format("Monday, January 2, 2006")
	if calendar.FormatDateKey(m.date) == calendar.FormatDateKey(m.now()) {
		header = m.todayStyle.Render(header + " (today)")
	}
	b.WriteString(header + "\n")
	if width > 0 {
		b.WriteString(strings.Repeat("─", width))
	}
	b.WriteString("\n")

	if len(m.occurrences) == 0 {
		b.WriteString("No tasks\n")
		return b.String()
	}

	for i, occ := range m.occurrences {
		task := occ.Task()

		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}

		status := "[ ]"
		if occ.IsCompleted() {
			status = "[✓]"
		}

		clock := task.Time
		if clock == "" {
			clock = "     "
		}

		title := task.Title
		switch {
		case occ.IsCompleted():
			title = m.completedStyle.Render(title)
		case i == m.cursor:
			title = m.selectedStyle.Render(title)
		}
		if task.IsRepeating {
			title += " " + m.repeatStyle.Render("↻ "+string(task.RepeatType))
		}

		fmt.Fprintf(&b, "%s %s %s %s\n", cursor, status, clock, title)
	}
	return b.String()
}

func (m *Model) renderMonth() string {
	var b strings.Builder
	b.WriteString(m.date.Format("January 2006") + "\n\n")
	for _, wd := range []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"} {
		fmt.Fprintf(&b, "%-7s", wd)
	}
	b.WriteString("\n")

	selected := calendar.FormatDateKey(m.date)
	grid := calendar.MonthGrid(m.manager.Snapshot(), m.date, m.now())
	for i, day := range grid {
		cell := fmt.Sprintf("%2d", day.Date.Day())
		if day.Count > 0 {
			cell += fmt.Sprintf("(%d)", day.Count)
		}
		cell = fmt.Sprintf("%-7s", cell)
		switch {
		case day.Key == selected:
			cell = m.selectedStyle.Render(cell)
		case day.IsToday:
			cell = m.todayStyle.Render(cell)
		case !day.InMonth:
			cell = m.dimStyle.Render(cell)
		}
		b.WriteString(cell)
		if i%7 == 6 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *Model) renderStatusBar() string {
	left := fmt.Sprintf("%s  %d/%d done", calendar.FormatDateKey(m.date), m.stats.Completed, m.stats.Total)
	if !m.manager.Online() {
		left += "  " + m.errorStyle.Render("offline")
	}
	if m.manager.Busy() {
		left += "  saving..."
	}
	if m.status != "" {
		left += "  " + m.status
	}

	right := "q:quit  ?:help"

	padding := m.width - lipgloss.Width(left) - len(right) - 2
	if padding < 1 {
		padding = 1
	}

	return m.statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

func (m *Model) renderInputDialog(title, help string) string {
	dialog := m.dialogStyle.Render(
		title + "\n\n" +
			m.textInput.View() + "\n\n" +
			m.helpStyle.Render(help),
	)
	return m.centerDialog(dialog)
}

func (m *Model) renderHelpDialog() string {
	help := `Help - Key Bindings

Day view:
  j/↓ k/↑  Move between tasks
  h/← l/→  Previous / next day
  t        Jump to today
  m, Tab   Month view

Actions:
  a        Add task (prefix HH:MM to set a time)
  e        Edit title of selected task
  c, Space Toggle completion
  d        Delete task (with confirm)
  r        Reload from store

Month view:
  h/l j/k  Move by day / week
  [ ]      Previous / next month
  Enter    Open selected day

General:
  ?        Show this help
  q        Quit

Press Esc to close`

	dialog := m.dialogStyle.Render(help)
	return m.centerDialog(dialog)
}

func (m *Model) renderConfirmDeleteDialog() string {
	title := "Delete selected task?"
	if occ, ok := m.selected(); ok {
		title = fmt.Sprintf("Delete %q?", occ.Task().Title)
		if occ.Task().IsRepeating {
			title += "\nAll of its repeating occurrences will be removed."
		}
	}
	dialog := m.dialogStyle.Render(
		title + "\n\n" +
			m.helpStyle.Render("y: yes  n: no"),
	)
	return m.centerDialog(dialog)
}

func (m *Model) centerDialog(dialog string) string {
	lines := strings.Split(dialog, "\n")
	dialogHeight := len(lines)
	dialogWidth := lipgloss.Width(dialog)

	topPad := max((m.height-dialogHeight)/2, 0)
	leftPad := max((m.width-dialogWidth)/2, 0)

	var b strings.Builder
	for i := 0; i < topPad; i++ {
		b.WriteString("\n")
	}
	for _, line := range lines {
		b.WriteString(strings.Repeat(" ", leftPad))
		b.WriteString(line)
		b.WriteString("\n")
	}

	return b.String()
}
