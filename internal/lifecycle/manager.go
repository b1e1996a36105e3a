// Package lifecycle applies user intents (create, edit, toggle, delete) to the
// task store. All mutations run one at a time on a single goroutine; readers
// see immutable snapshots that are replaced only after persistence succeeds.
package lifecycle

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"todocal/backend"
	"todocal/internal/calendar"
	"todocal/internal/utils"
)

// Option configures a Manager.
type Option func(*Manager)

// WithOverlayEviction controls whether deleting a repeating template also
// drops its overlay entries. Enabled by default.
func WithOverlayEviction(enabled bool) Option {
	return func(m *Manager) { m.evictOverlay = enabled }
}

// WithOnAuthExpired sets the hook invoked when the store rejects the credential.
func WithOnAuthExpired(fn func(error)) Option {
	return func(m *Manager) { m.onAuthExpired = fn }
}

// WithSeed starts the manager from a previously saved store (offline).
func WithSeed(s *calendar.Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.current = s.Clone()
		}
	}
}

type command struct {
	ctx   context.Context
	run   func(ctx context.Context) error
	reply chan error
}

// Manager owns the in-memory store and serializes every mutation.
type Manager struct {
	store backend.TaskStore

	mu      sync.RWMutex
	current *calendar.Store
	online  bool

	busy atomic.Bool

	cmds chan command
	quit chan struct{}
	done chan struct{}
	stop sync.Once

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	evictOverlay  bool
	onAuthExpired func(error)
}

// New starts a manager backed by store. Call Close to stop it.
func New(store backend.TaskStore, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		current:      calendar.NewStore(),
		cmds:         make(chan command),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		subs:         make(map[int]chan struct{}),
		evictOverlay: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			return
		case cmd := <-m.cmds:
			// The caller gave up before the command started.
			if err := cmd.ctx.Err(); err != nil {
				cmd.reply <- err
				continue
			}
			m.busy.Store(true)
			err := cmd.run(context.WithoutCancel(cmd.ctx))
			m.busy.Store(false)
			cmd.reply <- err
		}
	}
}

// submit hands fn to the actor and waits for it. Once started, fn runs to
// completion even if ctx is cancelled; the caller just stops waiting.
func (m *Manager) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{ctx: ctx, run: fn, reply: make(chan error, 1)}
	select {
	case m.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quit:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the actor. Pending callers receive ErrClosed.
func (m *Manager) Close() {
	m.stop.Do(func() {
		close(m.quit)
		<-m.done
		m.subMu.Lock()
		for id, ch := range m.subs {
			close(ch)
			delete(m.subs, id)
		}
		m.subMu.Unlock()
	})
}

// Snapshot returns the current store. The result is shared and must not be
// modified.
func (m *Manager) Snapshot() *calendar.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the last persistence call succeeded.
func (m *Manager) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Busy reports whether a mutation is in flight.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// OccurrencesOn expands the current store for date.
func (m *Manager) OccurrencesOn(date time.Time) []calendar.Occurrence {
	return calendar.OccurrencesOn(m.Snapshot(), date)
}

// Subscribe returns a channel that receives a value after every store change.
// Signals coalesce; a slow reader sees at least one pending signal.
func (m *Manager) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

func (m *Manager) publish(next *calendar.Store) {
	m.publishWith(next, true)
}

// publishWith swaps in next; online is the connectivity the last persistence
// call of the command left behind.
func (m *Manager) publishWith(next *calendar.Store, online bool) {
	m.mu.Lock()
	m.current = next
	m.online = online
	m.mu.Unlock()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// observe records a failed persistence call.
func (m *Manager) observe(op string, err error) {
	switch {
	case backend.IsAuthExpired(err):
		utils.Warnf("%s: %v", op, err)
		if m.onAuthExpired != nil {
			m.onAuthExpired(err)
		}
	default:
		utils.Debugf("%s failed, going offline: %v", op, err)
		m.mu.Lock()
		m.online = false
		m.mu.Unlock()
	}
}

// Refresh reloads the whole store. On failure the last good store is kept.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.submit(ctx, func(ctx context.Context) error {
		s, err := m.store.FetchAll(ctx)
		if err != nil {
			m.observe("fetch", err)
			return err
		}
		if s.Completions == nil {
			s.Completions = calendar.Overlay{}
		}
		m.publish(s)
		return nil
	})
}

// Create adds a new template anchored at dateKey.
func (m *Manager) Create(ctx context.Context, dateKey calendar.DateKey, draft calendar.Draft) (calendar.Template, error) {
	if !calendar.IsDateKey(string(dateKey)) {
		return calendar.Template{}, &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	if err := validateDraft(draft); err != nil {
		return calendar.Template{}, err
	}

	t := draft.Apply(calendar.Template{ID: backend.GenerateID()}, dateKey)

	err := m.submit(ctx, func(ctx context.Context) error {
		next := m.Snapshot().Clone()
		if err := m.store.Create(ctx, dateKey, t); err != nil {
			m.observe("create", err)
			return err
		}
		next.Append(dateKey, t)
		m.publish(next)
		return nil
	})
	if err != nil {
		return calendar.Template{}, err
	}
	utils.Debugf("created task %s on %s", t.ID, dateKey)
	return t, nil
}

// Template returns the template behind ref as currently stored.
func (m *Manager) Template(ref calendar.Occurrence) (calendar.Template, error) {
	t, _, ok := m.Snapshot().Lookup(ref.Anchor(), ref.TemplateID())
	if !ok {
		return calendar.Template{}, &NotFoundError{DateKey: ref.Anchor(), ID: ref.TemplateID()}
	}
	return t.Clone(), nil
}

// Edit applies draft to the template behind ref. A synthesized reference
// edits its template at the anchor date; the result carries that anchor.
func (m *Manager) Edit(ctx context.Context, ref calendar.Occurrence, draft calendar.Draft) (calendar.Template, error) {
	if err := validateDraft(draft); err != nil {
		return calendar.Template{}, err
	}

	anchor, id := ref.Anchor(), ref.TemplateID()
	var updated calendar.Template
	err := m.submit(ctx, func(ctx context.Context) error {
		next := m.Snapshot().Clone()
		t, idx, ok := next.Lookup(anchor, id)
		if !ok {
			return &NotFoundError{DateKey: anchor, ID: id}
		}
		u := draft.Apply(t, anchor)
		if err := m.store.Update(ctx, anchor, idx, u); err != nil {
			m.observe("update", err)
			return err
		}
		next.Replace(anchor, idx, u)
		m.publish(next)
		updated = u
		return nil
	})
	if err != nil {
		return calendar.Template{}, err
	}
	return updated, nil
}

// ToggleCompletion flips the completion of one occurrence and returns the
// new state. Synthesized occurrences flip their overlay entry; direct ones
// flip the template itself.
func (m *Manager) ToggleCompletion(ctx context.Context, ref calendar.Occurrence) (bool, error) {
	var state bool
	err := m.submit(ctx, func(ctx context.Context) error {
		next := m.Snapshot().Clone()
		t, idx, ok := next.Lookup(ref.Anchor(), ref.TemplateID())
		if !ok {
			return &NotFoundError{DateKey: ref.Anchor(), ID: ref.TemplateID()}
		}

		switch o := ref.(type) {
		case calendar.Synthesized:
			key := o.InstanceKey()
			next.Completions[key] = !next.Completions[key]
			if err := m.store.SetCompletions(ctx, next.Completions); err != nil {
				m.observe("completions", err)
				return err
			}
			state = next.Completions[key]
		case calendar.Direct:
			t.Completed = !t.Completed
			if err := m.store.Update(ctx, o.On, idx, t); err != nil {
				m.observe("update", err)
				return err
			}
			next.Replace(o.On, idx, t)
			state = t.Completed
		}
		m.publish(next)
		return nil
	})
	if err != nil {
		return false, err
	}
	return state, nil
}

// Delete removes the template behind a direct reference. Synthesized
// occurrences cannot be deleted individually.
func (m *Manager) Delete(ctx context.Context, ref calendar.Occurrence) error {
	if calendar.IsSynthesized(ref) {
		return &InvalidOperationError{
			Op:     "delete",
			Reason: "repeating occurrences can only be removed by deleting the original task on " + string(ref.Anchor()),
		}
	}

	return m.submit(ctx, func(ctx context.Context) error {
		next := m.Snapshot().Clone()
		key := ref.Date()
		t, idx, ok := next.Lookup(key, ref.TemplateID())
		if !ok {
			return &NotFoundError{DateKey: key, ID: ref.TemplateID()}
		}
		if err := m.store.Remove(ctx, key, idx); err != nil {
			m.observe("remove", err)
			return err
		}
		next.RemoveAt(key, idx)

		online := true
		if t.IsRepeating && m.evictOverlay {
			previous := next.Completions.Clone()
			if n := next.Completions.Evict(t.ID); n > 0 {
				if err := m.store.SetCompletions(ctx, next.Completions); err != nil {
					// The template is gone either way; keep the overlay as persisted.
					utils.Warnf("could not drop %d completion entries of %s: %v", n, t.ID, err)
					m.observe("completions", err)
					next.Completions = previous
					// the Remove reached the store; only a transport failure counts
					online = backend.IsAuthExpired(err)
				}
			}
		}
		m.publishWith(next, online)
		return nil
	})
}

// Resolve returns the occurrence at a 1-based position of the time-sorted
// day view.
func (m *Manager) Resolve(date time.Time, position int) (calendar.Occurrence, error) {
	occ := calendar.SortByTime(m.OccurrencesOn(date))
	if position < 1 || position > len(occ) {
		return nil, &NotFoundError{DateKey: calendar.FormatDateKey(date)}
	}
	return occ[position-1], nil
}

// Find returns the occurrence on date with the given occurrence id.
func (m *Manager) Find(date time.Time, id string) (calendar.Occurrence, error) {
	o, ok := calendar.FindOccurrence(m.Snapshot(), date, id)
	if !ok {
		return nil, &NotFoundError{DateKey: calendar.FormatDateKey(date), ID: id}
	}
	return o, nil
}

func validateDraft(d calendar.Draft) error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if d.Time != "" {
		if _, err := calendar.ParseClock(d.Time); err != nil {
			return &ValidationError{Field: "time", Reason: "expected HH:MM"}
		}
	}
	if !d.IsRepeating {
		return nil
	}
	if d.RepeatType != "" && !slices.Contains(calendar.RepeatTypes, d.RepeatType) {
		return &ValidationError{Field: "repeat type", Reason: "unknown repeat type " + string(d.RepeatType)}
	}
	if d.RepeatType == calendar.RepeatCustom {
		for _, wd := range d.RepeatDays {
			if wd < time.Sunday || wd > time.Saturday {
				return &ValidationError{Field: "repeat days", Reason: "weekday out of range 0-6"}
			}
		}
	}
	return nil
}
