package calendar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// RepeatType selects the recurrence rule of a repeating template.
type RepeatType string

const (
	RepeatDaily    RepeatType = "daily"
	RepeatWeekly   RepeatType = "weekly"
	RepeatWeekdays RepeatType = "weekdays"
	RepeatCustom   RepeatType = "custom"
)

// RepeatTypes lists the recognised recurrence rules.
var RepeatTypes = []RepeatType{RepeatDaily, RepeatWeekly, RepeatWeekdays, RepeatCustom}

// ParseRepeatType maps user input to a RepeatType.
func ParseRepeatType(s string) (RepeatType, error) {
	rt := RepeatType(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(RepeatTypes, rt) {
		return rt, nil
	}
	return "", fmt.Errorf("unknown repeat type: %q", s)
}

// Template is a task as authored by the user, stored under its anchor date.
type Template struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Time         string         `json:"time,omitempty"`
	Completed    bool           `json:"completed"`
	IsRepeating  bool           `json:"isRepeating"`
	RepeatType   RepeatType     `json:"repeatType,omitempty"`
	RepeatDays   []time.Weekday `json:"repeatDays,omitempty"`
	OriginalDate DateKey        `json:"originalDate,omitempty"`
}

// Clone returns a copy of t that shares no memory with it.
func (t Template) Clone() Template {
	if t.RepeatDays != nil {
		t.RepeatDays = slices.Clone(t.RepeatDays)
	}
	return t
}

// RepeatsOn reports whether wd is in the template's custom weekday set.
func (t Template) RepeatsOn(wd time.Weekday) bool {
	return slices.Contains(t.RepeatDays, wd)
}

// UnmarshalJSON accepts ids encoded either as strings or as numbers; older
// clients stored millisecond timestamps as numeric ids.
func (t *Template) UnmarshalJSON(data []byte) error {
	type alias Template
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.ID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		t.ID = ""
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &t.ID); err != nil {
			return fmt.Errorf("invalid task id: %w", err)
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("invalid task id: %w", err)
		}
		t.ID = n.String()
	}
	return nil
}

// Draft carries the user-editable fields of a template.
type Draft struct {
	Title       string
	Time        string
	Completed   bool
	IsRepeating bool
	RepeatType  RepeatType
	RepeatDays  []time.Weekday
}

// DraftOf returns the editable fields of t.
func DraftOf(t Template) Draft {
	return Draft{
		Title:       t.Title,
		Time:        t.Time,
		Completed:   t.Completed,
		IsRepeating: t.IsRepeating,
		RepeatType:  t.RepeatType,
		RepeatDays:  slices.Clone(t.RepeatDays),
	}
}

// Apply writes the draft onto a template anchored at anchor. The id is kept;
// OriginalDate is set for repeating templates and cleared otherwise.
func (d Draft) Apply(t Template, anchor DateKey) Template {
	t.Title = strings.TrimSpace(d.Title)
	t.Time = d.Time
	t.Completed = d.Completed
	t.IsRepeating = d.IsRepeating
	t.RepeatType = d.RepeatType
	if t.IsRepeating && t.RepeatType == "" {
		t.RepeatType = RepeatDaily
	}
	t.RepeatDays = slices.Clone(d.RepeatDays)
	t.OriginalDate = ""
	if t.IsRepeating {
		t.OriginalDate = anchor
	}
	return t
}
