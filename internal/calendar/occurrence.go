package calendar

// Occurrence is one day's manifestation of a template. It is either a Direct
// occurrence (the template itself on its anchor date) or a Synthesized one
// (a derived instance of a repeating template on a later date). The set of
// implementations is closed; switch on the concrete type.
type Occurrence interface {
	// ID is the occurrence id: the template id for Direct, the instance key
	// for Synthesized.
	ID() string
	// TemplateID is the id of the owning template.
	TemplateID() string
	// Date is the day this occurrence is on.
	Date() DateKey
	// Anchor is the date key the owning template is stored under.
	Anchor() DateKey
	// Task returns the template fields as seen on Date, with Completed
	// reflecting this occurrence.
	Task() Template
	// IsCompleted reports this occurrence's completion state.
	IsCompleted() bool
	// InstanceKey identifies the occurrence for per-day bookkeeping.
	InstanceKey() string

	occurrence()
}

// Direct is a template shown on its own anchor date.
type Direct struct {
	Template Template
	On       DateKey
}

func (d Direct) ID() string          { return d.Template.ID }
func (d Direct) TemplateID() string  { return d.Template.ID }
func (d Direct) Date() DateKey       { return d.On }
func (d Direct) Anchor() DateKey     { return d.On }
func (d Direct) Task() Template      { return d.Template }
func (d Direct) IsCompleted() bool   { return d.Template.Completed }
func (d Direct) InstanceKey() string { return InstanceKey(d.Template.ID, d.On) }
func (Direct) occurrence()           {}

// Synthesized is a derived instance of a repeating template on a date other
// than its anchor. Its completion lives in the overlay, never on the template.
type Synthesized struct {
	Template  Template
	On        DateKey
	From      DateKey
	Completed bool
}

func (s Synthesized) ID() string          { return InstanceKey(s.Template.ID, s.On) }
func (s Synthesized) TemplateID() string  { return s.Template.ID }
func (s Synthesized) Date() DateKey       { return s.On }
func (s Synthesized) Anchor() DateKey     { return s.From }
func (s Synthesized) IsCompleted() bool   { return s.Completed }
func (s Synthesized) InstanceKey() string { return InstanceKey(s.Template.ID, s.On) }
func (Synthesized) occurrence()           {}

// Task returns a copy of the template carrying the overlay completion state.
func (s Synthesized) Task() Template {
	t := s.Template.Clone()
	t.Completed = s.Completed
	t.OriginalDate = s.From
	return t
}

// IsSynthesized reports whether o is a derived instance.
func IsSynthesized(o Occurrence) bool {
	_, ok := o.(Synthesized)
	return ok
}
