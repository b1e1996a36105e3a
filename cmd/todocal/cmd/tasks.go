package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"todocal/internal/calendar"
	"todocal/internal/cli/prompt"
	"todocal/internal/lifecycle"
	"todocal/internal/utils"
)

// taskJSON is one occurrence as printed by --json.
type taskJSON struct {
	Position    int    `json:"position,omitempty"`
	ID          string `json:"id"`
	TemplateID  string `json:"template_id"`
	Date        string `json:"date"`
	Anchor      string `json:"anchor"`
	Title       string `json:"title"`
	Time        string `json:"time,omitempty"`
	Completed   bool   `json:"completed"`
	Repeating   bool   `json:"repeating"`
	RepeatType  string `json:"repeat_type,omitempty"`
	RepeatDays  []int  `json:"repeat_days,omitempty"`
	Synthesized bool   `json:"synthesized"`
	InstanceKey string `json:"instance_key"`
}

type dayResponse struct {
	Date      string     `json:"date"`
	Tasks     []taskJSON `json:"tasks"`
	Count     int        `json:"count"`
	Completed int        `json:"completed"`
	Online    bool       `json:"online"`
	Result    string     `json:"result"`
}

type monthDayJSON struct {
	Date    string `json:"date"`
	InMonth bool   `json:"in_month"`
	Today   bool   `json:"today"`
	Count   int    `json:"count"`
}

type monthResponse struct {
	Month  string         `json:"month"`
	Days   []monthDayJSON `json:"days"`
	Result string         `json:"result"`
}

type actionResponse struct {
	Action string   `json:"action"`
	Task   taskJSON `json:"task"`
	Result string   `json:"result"`
}

func occurrenceToJSON(o calendar.Occurrence, position int) taskJSON {
	t := o.Task()
	result := taskJSON{
		Position:    position,
		ID:          o.ID(),
		TemplateID:  o.TemplateID(),
		Date:        string(o.Date()),
		Anchor:      string(o.Anchor()),
		Title:       t.Title,
		Time:        t.Time,
		Completed:   o.IsCompleted(),
		Repeating:   t.IsRepeating,
		RepeatType:  string(t.RepeatType),
		Synthesized: calendar.IsSynthesized(o),
		InstanceKey: o.InstanceKey(),
	}
	for _, wd := range t.RepeatDays {
		result.RepeatDays = append(result.RepeatDays, int(wd))
	}
	return result
}

func templateToJSON(t calendar.Template, anchor calendar.DateKey) taskJSON {
	return occurrenceToJSON(calendar.Direct{Template: t, On: anchor}, 0)
}

// getStatusIcon returns the checkbox for an occurrence
func getStatusIcon(completed bool) string {
	if completed {
		return "[✓]"
	}
	return "[ ]"
}

func describeRepeat(t calendar.Template) string {
	if !t.IsRepeating {
		return ""
	}
	if t.RepeatType != calendar.RepeatCustom {
		return string(t.RepeatType)
	}
	names := make([]string, 0, len(t.RepeatDays))
	for _, wd := range t.RepeatDays {
		names = append(names, wd.String()[:3])
	}
	return "custom: " + strings.Join(names, ",")
}

// newDayCmd creates the 'day' command
func newDayCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "day [date]",
		Short: "Show the tasks of a day",
		Long:  "Show every task occurring on a day, repeating ones included, sorted by time. The date defaults to today and accepts YYYY-MM-DD, today, tomorrow, yesterday or +Nd.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dateStr := ""
			if len(args) == 1 {
				dateStr = args[0]
			}
			date, err := utils.ParseDateFlag(dateStr, cfg.now())
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return doDay(a, date, stdout)
		},
	}
}

func doDay(a *app, date time.Time, stdout io.Writer) error {
	occ := calendar.SortByTime(a.manager.OccurrencesOn(date))
	stats := calendar.DayStats(a.manager.Snapshot(), date)
	key := calendar.FormatDateKey(date)

	if a.cfg.OutputFormat == "json" {
		tasks := make([]taskJSON, 0, len(occ))
		for i, o := range occ {
			tasks = append(tasks, occurrenceToJSON(o, i+1))
		}
		return writeJSON(stdout, dayResponse{
			Date:      string(key),
			Tasks:     tasks,
			Count:     stats.Total,
			Completed: stats.Completed,
			Online:    a.manager.Online(),
			Result:    ResultInfoOnly,
		})
	}

	header := date.Format("Monday, January 2, 2006")
	if key == calendar.FormatDateKey(a.cfg.now()) {
		header += " (today)"
	}
	if !a.manager.Online() {
		header += " [offline]"
	}
	_, _ = fmt.Fprintln(stdout, header)

	if len(occ) == 0 {
		_, _ = fmt.Fprintln(stdout, "No tasks")
	}
	for i, o := range occ {
		t := o.Task()
		clock := t.Time
		if clock == "" {
			clock = "--:--"
		}
		line := fmt.Sprintf("%3d. %s %s %s", i+1, getStatusIcon(o.IsCompleted()), clock, t.Title)
		if r := describeRepeat(t); r != "" {
			line += " (repeats " + r + ")"
		}
		_, _ = fmt.Fprintln(stdout, line)
	}
	_, _ = fmt.Fprintf(stdout, "%d tasks, %d completed\n", stats.Total, stats.Completed)
	resultCode(a.cfg, stdout, ResultInfoOnly)
	return nil
}

// newMonthCmd creates the 'month' command
func newMonthCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "month [YYYY-MM]",
		Short: "Show a month with task counts per day",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monthStr := ""
			if len(args) == 1 {
				monthStr = args[0]
			}
			month, err := utils.ParseMonthFlag(monthStr, cfg.now())
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return doMonth(a, month, stdout)
		},
	}
}

func doMonth(a *app, month time.Time, stdout io.Writer) error {
	grid := calendar.MonthGrid(a.manager.Snapshot(), month, a.cfg.now())

	if a.cfg.OutputFormat == "json" {
		days := make([]monthDayJSON, 0, len(grid))
		for _, d := range grid {
			days = append(days, monthDayJSON{Date: string(d.Key), InMonth: d.InMonth, Today: d.IsToday, Count: d.Count})
		}
		return writeJSON(stdout, monthResponse{Month: month.Format("2006-01"), Days: days, Result: ResultInfoOnly})
	}

	_, _ = fmt.Fprintln(stdout, month.Format("January 2006"))
	_, _ = fmt.Fprintln(stdout, "  Sun    Mon    Tue    Wed    Thu    Fri    Sat")
	var b strings.Builder
	for i, d := range grid {
		cell := fmt.Sprintf("%2d", d.Date.Day())
		switch {
		case !d.InMonth:
			cell = "  "
		case d.IsToday:
			cell = fmt.Sprintf("*%d", d.Date.Day())
			if d.Date.Day() >= 10 {
				cell = fmt.Sprintf("%d*", d.Date.Day())
			}
		}
		count := "   "
		if d.InMonth && d.Count > 0 {
			count = fmt.Sprintf("(%d)", d.Count)
		}
		fmt.Fprintf(&b, "  %s%-5s", cell, count)
		if i%7 == 6 {
			_, _ = fmt.Fprintln(stdout, strings.TrimRight(b.String(), " "))
			b.Reset()
		}
	}
	resultCode(a.cfg, stdout, ResultInfoOnly)
	return nil
}

// draftFlags collects the add/edit flags into a draft. Only changed flags
// overwrite base.
func draftFlags(cmd *cobra.Command, base calendar.Draft) (calendar.Draft, error) {
	d := base
	flags := cmd.Flags()

	if flags.Changed("title") {
		d.Title, _ = flags.GetString("title")
	}
	if flags.Changed("time") {
		clock, _ := flags.GetString("time")
		if err := utils.ValidateClock(clock); err != nil {
			return d, err
		}
		d.Time = clock
	}
	if flags.Changed("repeat") {
		repeat, _ := flags.GetString("repeat")
		rt, err := calendar.ParseRepeatType(repeat)
		if err != nil {
			valid := make([]string, 0, len(calendar.RepeatTypes))
			for _, r := range calendar.RepeatTypes {
				valid = append(valid, string(r))
			}
			return d, utils.ErrInvalidRepeat(repeat, valid)
		}
		d.IsRepeating = true
		d.RepeatType = rt
	}
	if flags.Changed("days") {
		daysStr, _ := flags.GetString("days")
		days, err := utils.ParseWeekdays(daysStr)
		if err != nil {
			return d, err
		}
		d.RepeatDays = days
		if !flags.Changed("repeat") {
			d.IsRepeating = true
			d.RepeatType = calendar.RepeatCustom
		}
	}
	if noRepeat, _ := flags.GetBool("no-repeat"); noRepeat {
		d.IsRepeating = false
		d.RepeatType = ""
		d.RepeatDays = nil
	}
	if d.RepeatType != calendar.RepeatCustom {
		d.RepeatDays = nil
	}
	return d, nil
}

func addDraftFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("time", "t", "", "Time of day in HH:MM (24-hour)")
	cmd.Flags().StringP("repeat", "r", "", "Repeat rule: daily, weekly, weekdays or custom")
	cmd.Flags().String("days", "", "Weekdays for custom repeats, e.g. 1,3,5 or mon,wed,fri")
}

// newAddCmd creates the 'add' command
func newAddCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a task",
		Long:  "Add a task on a date. Repeating tasks are anchored on that date and appear on later matching days. Without a title every field is prompted for.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				date  time.Time
				draft calendar.Draft
				err   error
			)
			if len(args) == 0 {
				fields, err := (&prompt.InteractiveAdder{
					Reader:   cfg.stdin(),
					Writer:   stdout,
					NoPrompt: cfg.NoPrompt,
					Now:      cfg.now(),
				}).Run()
				if errors.Is(err, prompt.ErrNoPromptMode) {
					return utils.WrapWithSuggestion(errors.New("a title is required"), "Pass the title as an argument, e.g. todocal add \"Call mom\" -t 18:00")
				}
				if err != nil {
					return err
				}
				date, draft = fields.Date, fields.Draft
			} else {
				dateStr, _ := cmd.Flags().GetString("date")
				date, err = utils.ParseDateFlag(dateStr, cfg.now())
				if err != nil {
					return err
				}
				draft, err = draftFlags(cmd, calendar.Draft{Title: strings.Join(args, " ")})
				if err != nil {
					return err
				}
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return doAdd(cmd.Context(), a, date, draft, stdout)
		},
	}
	cmd.Flags().StringP("date", "d", "", "Date of the task (default today)")
	addDraftFlags(cmd)
	cmd.Flags().Bool("no-repeat", false, "")
	_ = cmd.Flags().MarkHidden("no-repeat")
	return cmd
}

func doAdd(ctx context.Context, a *app, date time.Time, draft calendar.Draft, stdout io.Writer) error {
	key := calendar.FormatDateKey(date)
	t, err := a.manager.Create(ctx, key, draft)
	if err != nil {
		return cliError(err)
	}

	if a.cfg.OutputFormat == "json" {
		return writeJSON(stdout, actionResponse{Action: "add", Task: templateToJSON(t, key), Result: ResultActionCompleted})
	}

	msg := fmt.Sprintf("Created task: %s on %s", t.Title, key)
	if t.Time != "" {
		msg += " at " + t.Time
	}
	if r := describeRepeat(t); r != "" {
		msg += " (repeats " + r + ")"
	}
	_, _ = fmt.Fprintln(stdout, msg)
	resultCode(a.cfg, stdout, ResultActionCompleted)
	return nil
}

// resolveRef finds an occurrence by 1-based position in the day view or by id.
func resolveRef(a *app, date time.Time, ref string) (calendar.Occurrence, error) {
	var (
		occ calendar.Occurrence
		err error
	)
	if n, convErr := strconv.Atoi(ref); convErr == nil {
		occ, err = a.manager.Resolve(date, n)
	} else {
		occ, err = a.manager.Find(date, ref)
	}
	if lifecycle.IsNotFound(err) {
		return nil, utils.ErrTaskNotFound(ref, string(calendar.FormatDateKey(date)))
	}
	return occ, err
}

// selectOccurrence asks the user to pick one of the day's occurrences.
func selectOccurrence(a *app, date time.Time, action string, stdout io.Writer) (calendar.Occurrence, error) {
	occ := prompt.FilterByAction(calendar.SortByTime(a.manager.OccurrencesOn(date)), action, false)
	selected, err := (&prompt.OccurrenceSelector{
		Occurrences: occ,
		Prompt:      fmt.Sprintf("Select a task to %s on %s:", action, calendar.FormatDateKey(date)),
		Reader:      a.cfg.stdin(),
		Writer:      stdout,
		NoPrompt:    a.cfg.NoPrompt || a.cfg.OutputFormat == "json",
	}).Run()
	switch {
	case errors.Is(err, prompt.ErrNoPromptMode):
		return nil, utils.WrapWithSuggestion(errors.New("no task given"),
			fmt.Sprintf("Pass the position or id shown by 'todocal day %s'", calendar.FormatDateKey(date)))
	case errors.Is(err, prompt.ErrNoTasks), errors.Is(err, prompt.ErrNoMatches):
		key := calendar.FormatDateKey(date)
		return nil, utils.WrapWithSuggestion(fmt.Errorf("no task to %s on %s", action, key),
			fmt.Sprintf("Use 'todocal day %s' to see the tasks of that day", key))
	}
	return selected, err
}

// refCommand builds a command acting on one occurrence, given by position
// or id, or picked interactively when omitted.
func refCommand(use, short string, cfg *Config, stdout io.Writer, run func(ctx context.Context, a *app, cmd *cobra.Command, occ calendar.Occurrence) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " [position|id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dateStr, _ := cmd.Flags().GetString("date")
			date, err := utils.ParseDateFlag(dateStr, cfg.now())
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			var occ calendar.Occurrence
			if len(args) == 1 {
				occ, err = resolveRef(a, date, args[0])
			} else {
				occ, err = selectOccurrence(a, date, use, stdout)
			}
			if err != nil {
				return err
			}
			return run(cmd.Context(), a, cmd, occ)
		},
	}
	cmd.Flags().StringP("date", "d", "", "Day the position refers to (default today)")
	return cmd
}

// newEditCmd creates the 'edit' command
func newEditCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := refCommand("edit", "Edit a task (repeating tasks are edited for every occurrence)", cfg, stdout,
		func(ctx context.Context, a *app, cmd *cobra.Command, occ calendar.Occurrence) error {
			t, err := a.manager.Template(occ)
			if err != nil {
				return cliError(err)
			}
			draft, err := draftFlags(cmd, calendar.DraftOf(t))
			if err != nil {
				return err
			}
			updated, err := a.manager.Edit(ctx, occ, draft)
			if err != nil {
				return cliError(err)
			}

			if a.cfg.OutputFormat == "json" {
				return writeJSON(stdout, actionResponse{Action: "edit", Task: templateToJSON(updated, occ.Anchor()), Result: ResultActionCompleted})
			}
			_, _ = fmt.Fprintf(stdout, "Updated task: %s\n", updated.Title)
			if calendar.IsSynthesized(occ) {
				_, _ = fmt.Fprintf(stdout, "Edited the repeating task anchored on %s\n", occ.Anchor())
			}
			resultCode(a.cfg, stdout, ResultActionCompleted)
			return nil
		})
	cmd.Flags().String("title", "", "New title")
	addDraftFlags(cmd)
	cmd.Flags().Bool("no-repeat", false, "Stop the task repeating")
	return cmd
}

// newToggleCmd creates the 'toggle' command
func newToggleCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return refCommand("toggle", "Toggle completion of one occurrence", cfg, stdout,
		func(ctx context.Context, a *app, cmd *cobra.Command, occ calendar.Occurrence) error {
			done, err := a.manager.ToggleCompletion(ctx, occ)
			if err != nil {
				return cliError(err)
			}

			if a.cfg.OutputFormat == "json" {
				task := occurrenceToJSON(occ, 0)
				task.Completed = done
				action := "reopen"
				if done {
					action = "complete"
				}
				return writeJSON(stdout, actionResponse{Action: action, Task: task, Result: ResultActionCompleted})
			}
			if done {
				_, _ = fmt.Fprintf(stdout, "Completed task: %s\n", occ.Task().Title)
			} else {
				_, _ = fmt.Fprintf(stdout, "Reopened task: %s\n", occ.Task().Title)
			}
			resultCode(a.cfg, stdout, ResultActionCompleted)
			return nil
		})
}

// newDeleteCmd creates the 'delete' command
func newDeleteCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return refCommand("delete", "Delete a task (repeating tasks only from their original date)", cfg, stdout,
		func(ctx context.Context, a *app, cmd *cobra.Command, occ calendar.Occurrence) error {
			if calendar.IsSynthesized(occ) {
				err := a.manager.Delete(ctx, occ)
				return utils.ErrCannotDeleteInstance(err, string(occ.Anchor()))
			}

			t := occ.Task()
			if !a.cfg.NoPrompt && a.cfg.OutputFormat != "json" {
				prompt := fmt.Sprintf("Delete task %q?", t.Title)
				if t.IsRepeating {
					prompt = fmt.Sprintf("Delete repeating task %q and all of its occurrences?", t.Title)
				}
				if !utils.Confirm(a.cfg.stdin(), stdout, prompt, false) {
					_, _ = fmt.Fprintln(stdout, "Cancelled")
					return nil
				}
			}

			if err := a.manager.Delete(ctx, occ); err != nil {
				return cliError(err)
			}

			if a.cfg.OutputFormat == "json" {
				return writeJSON(stdout, actionResponse{Action: "delete", Task: occurrenceToJSON(occ, 0), Result: ResultActionCompleted})
			}
			_, _ = fmt.Fprintf(stdout, "Deleted task: %s\n", t.Title)
			resultCode(a.cfg, stdout, ResultActionCompleted)
			return nil
		})
}
