// Package prompt handles interactive prompts with no-prompt mode support.
// It provides filtered occurrence selection and an interactive add mode
// with field validation.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"todocal/internal/calendar"
	"todocal/internal/utils"
)

// Sentinel errors for prompt operations.
var (
	ErrSelectionCancelled = errors.New("selection cancelled")
	ErrNoPromptMode       = errors.New("interactive prompts disabled (--no-prompt / -y)")
	ErrNoTasks            = errors.New("no tasks available")
	ErrNoMatches          = errors.New("no tasks match the filter")
)

// OccurrenceSelector lets the user pick one occurrence of a day by
// filtering on the title and choosing a number.
type OccurrenceSelector struct {
	Occurrences []calendar.Occurrence
	Prompt      string
	Reader      io.Reader
	Writer      io.Writer
	NoPrompt    bool
}

// Run executes the selection prompt.
// If NoPrompt is true, returns ErrNoPromptMode.
// If there is exactly one occurrence, auto-selects it.
func (s *OccurrenceSelector) Run() (calendar.Occurrence, error) {
	if s.NoPrompt {
		return nil, ErrNoPromptMode
	}
	if len(s.Occurrences) == 0 {
		return nil, ErrNoTasks
	}
	if len(s.Occurrences) == 1 {
		return s.Occurrences[0], nil
	}

	writer := s.Writer
	if writer == nil {
		writer = io.Discard
	}
	scanner := bufio.NewScanner(s.Reader)

	_, _ = fmt.Fprintf(writer, "%s\nFilter (or press Enter to show all): ", s.Prompt)
	if !scanner.Scan() {
		return nil, ErrSelectionCancelled
	}
	filter := strings.ToLower(strings.TrimSpace(scanner.Text()))

	var filtered []calendar.Occurrence
	for _, o := range s.Occurrences {
		if filter == "" || strings.Contains(strings.ToLower(o.Task().Title), filter) {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoMatches
	}
	if len(filtered) == 1 {
		_, _ = fmt.Fprintf(writer, "Auto-selected: %s\n", filtered[0].Task().Title)
		return filtered[0], nil
	}

	for i, o := range filtered {
		_, _ = fmt.Fprintf(writer, "  %d) %s\n", i+1, formatOccurrenceLine(o))
	}

	_, _ = fmt.Fprintf(writer, "Select (0 to cancel): ")
	if !scanner.Scan() {
		return nil, ErrSelectionCancelled
	}
	input := strings.TrimSpace(scanner.Text())
	num, err := strconv.Atoi(input)
	if err != nil {
		return nil, fmt.Errorf("invalid selection: %s", input)
	}
	if num == 0 {
		return nil, ErrSelectionCancelled
	}
	if num < 1 || num > len(filtered) {
		return nil, fmt.Errorf("selection out of range: %d", num)
	}
	return filtered[num-1], nil
}

// formatOccurrenceLine shows time, title, completion and where a repeating
// occurrence comes from.
func formatOccurrenceLine(o calendar.Occurrence) string {
	t := o.Task()
	clock := t.Time
	if clock == "" {
		clock = "--:--"
	}

	var meta []string
	if o.IsCompleted() {
		meta = append(meta, "done")
	}
	if t.IsRepeating {
		meta = append(meta, fmt.Sprintf("repeats %s from %s", t.RepeatType, o.Anchor()))
	}

	line := clock + " " + t.Title
	if len(meta) > 0 {
		line += fmt.Sprintf(" [%s]", strings.Join(meta, ", "))
	}
	return line
}

// FilterByAction returns the occurrences an action can apply to. Only a
// template's own occurrence can be deleted, so "delete" drops synthesized
// ones unless showAll is set.
func FilterByAction(occ []calendar.Occurrence, action string, showAll bool) []calendar.Occurrence {
	if showAll || action != "delete" {
		return append([]calendar.Occurrence(nil), occ...)
	}
	var filtered []calendar.Occurrence
	for _, o := range occ {
		if !calendar.IsSynthesized(o) {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

// AddFields holds the values collected during interactive add mode.
type AddFields struct {
	Date  time.Time
	Draft calendar.Draft
}

// InteractiveAdder prompts for each field of a new task in turn.
type InteractiveAdder struct {
	Reader   io.Reader
	Writer   io.Writer
	NoPrompt bool
	Now      time.Time
}

// Run executes the interactive add mode.
// Fields: title (required), date, time, repeat rule and, for custom
// repeats, the weekdays. Invalid input is asked again.
func (a *InteractiveAdder) Run() (*AddFields, error) {
	if a.NoPrompt {
		return nil, ErrNoPromptMode
	}

	writer := a.Writer
	if writer == nil {
		writer = io.Discard
	}
	scanner := bufio.NewScanner(a.Reader)
	fields := &AddFields{Date: calendar.StartOfDay(a.Now)}

	// ask prints label and returns the trimmed answer; ok is false at end of input.
	ask := func(label string) (string, bool) {
		_, _ = fmt.Fprint(writer, label)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	for {
		title, ok := ask("Title (required): ")
		if !ok {
			return nil, errors.New("no input for title")
		}
		if title != "" {
			fields.Draft.Title = title
			break
		}
		_, _ = fmt.Fprintln(writer, "Title cannot be empty.")
	}

	for {
		input, ok := ask("Date (YYYY-MM-DD, today, tomorrow, +Nd, default today): ")
		if !ok || input == "" {
			break
		}
		date, err := utils.ParseDateFlag(input, a.Now)
		if err != nil {
			_, _ = fmt.Fprintf(writer, "Invalid date: %s. Use YYYY-MM-DD, today, tomorrow or +Nd\n", input)
			continue
		}
		fields.Date = date
		break
	}

	for {
		input, ok := ask("Time (HH:MM, optional): ")
		if !ok || input == "" {
			break
		}
		if err := utils.ValidateClock(input); err != nil {
			_, _ = fmt.Fprintln(writer, "Invalid time: use 24-hour HH:MM")
			continue
		}
		fields.Draft.Time = input
		break
	}

	for {
		input, ok := ask("Repeat (daily, weekly, weekdays, custom, optional): ")
		if !ok || input == "" {
			break
		}
		rt, err := calendar.ParseRepeatType(input)
		if err != nil {
			_, _ = fmt.Fprintf(writer, "Invalid repeat: %s\n", input)
			continue
		}
		fields.Draft.IsRepeating = true
		fields.Draft.RepeatType = rt
		break
	}

	if fields.Draft.RepeatType != calendar.RepeatCustom {
		return fields, nil
	}
	for {
		input, ok := ask("Days (e.g. mon,wed,fri): ")
		if !ok {
			return nil, errors.New("no input for custom repeat days")
		}
		days, err := utils.ParseWeekdays(input)
		if err != nil || len(days) == 0 {
			_, _ = fmt.Fprintln(writer, "Give at least one weekday, e.g. mon,wed,fri or 1,3,5")
			continue
		}
		fields.Draft.RepeatDays = days
		break
	}
	return fields, nil
}
