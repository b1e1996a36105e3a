package calendar

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// CompletionsKey is the reserved store key that holds the overlay.
const CompletionsKey = "completions"

// Overlay records completion of synthesized occurrences, keyed by InstanceKey.
type Overlay map[string]bool

// InstanceKey returns the overlay key of the occurrence of templateID on date.
func InstanceKey(templateID string, date DateKey) string {
	return templateID + "-" + string(date)
}

// Clone returns a copy of o. A nil overlay clones to an empty one.
func (o Overlay) Clone() Overlay {
	out := make(Overlay, len(o))
	maps.Copy(out, o)
	return out
}

// Evict removes every entry that belongs to templateID and returns how many
// entries were dropped.
func (o Overlay) Evict(templateID string) int {
	prefix := templateID + "-"
	n := 0
	for key := range o {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !IsDateKey(key[len(prefix):]) {
			continue
		}
		delete(o, key)
		n++
	}
	return n
}

// Store is the raw task store: templates per anchor date plus the overlay.
type Store struct {
	Days        map[DateKey][]Template
	Completions Overlay
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Days:        make(map[DateKey][]Template),
		Completions: make(Overlay),
	}
}

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	out := NewStore()
	if s == nil {
		return out
	}
	for k, list := range s.Days {
		cp := make([]Template, len(list))
		for i, t := range list {
			cp[i] = t.Clone()
		}
		out.Days[k] = cp
	}
	out.Completions = s.Completions.Clone()
	return out
}

// DateKeys returns the store's date keys in ascending order.
func (s *Store) DateKeys() []DateKey {
	keys := slices.Collect(maps.Keys(s.Days))
	slices.Sort(keys)
	return keys
}

// Templates returns the templates anchored on k in storage order.
func (s *Store) Templates(k DateKey) []Template {
	return s.Days[k]
}

// IndexOf returns the position of the template with id under k, or -1.
func (s *Store) IndexOf(k DateKey, id string) int {
	return slices.IndexFunc(s.Days[k], func(t Template) bool { return t.ID == id })
}

// Lookup returns the template with id under k.
func (s *Store) Lookup(k DateKey, id string) (Template, int, bool) {
	i := s.IndexOf(k, id)
	if i < 0 {
		return Template{}, -1, false
	}
	return s.Days[k][i], i, true
}

// Append adds t to the end of k's list.
func (s *Store) Append(k DateKey, t Template) {
	s.Days[k] = append(s.Days[k], t)
}

// Replace overwrites position i of k's list.
func (s *Store) Replace(k DateKey, i int, t Template) {
	s.Days[k][i] = t
}

// RemoveAt deletes position i of k's list. An emptied list is kept so the
// date key survives, matching what the persistence service does.
func (s *Store) RemoveAt(k DateKey, i int) Template {
	list := s.Days[k]
	removed := list[i]
	s.Days[k] = slices.Delete(slices.Clone(list), i, i+1)
	return removed
}

// Count returns the total number of templates in the store.
func (s *Store) Count() int {
	n := 0
	for _, list := range s.Days {
		n += len(list)
	}
	return n
}

// ContainsID reports whether any template in the store has the given id.
func (s *Store) ContainsID(id string) bool {
	for _, list := range s.Days {
		for _, t := range list {
			if t.ID == id {
				return true
			}
		}
	}
	return false
}

// MarshalJSON encodes the store in the service's wire shape: one key per
// date plus "completions".
func (s *Store) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Days)+1)
	for k, list := range s.Days {
		if list == nil {
			list = []Template{}
		}
		out[string(k)] = list
	}
	completions := s.Completions
	if completions == nil {
		completions = Overlay{}
	}
	out[CompletionsKey] = completions
	return json.Marshal(out)
}

// UnmarshalJSON decodes the service's wire shape.
func (s *Store) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode store: %w", err)
	}
	s.Days = make(map[DateKey][]Template, len(raw))
	s.Completions = make(Overlay)
	for key, value := range raw {
		if key == CompletionsKey {
			if err := json.Unmarshal(value, &s.Completions); err != nil {
				return fmt.Errorf("decode completions: %w", err)
			}
			if s.Completions == nil {
				s.Completions = make(Overlay)
			}
			continue
		}
		var list []Template
		if err := json.Unmarshal(value, &list); err != nil {
			return fmt.Errorf("decode tasks for %s: %w", key, err)
		}
		s.Days[DateKey(key)] = list
	}
	return nil
}
