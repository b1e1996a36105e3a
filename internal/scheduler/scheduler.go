// Package scheduler emits a notification when a task occurrence comes due,
// at most once per occurrence per day.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"todocal/internal/calendar"
	"todocal/internal/notification"
	"todocal/internal/utils"
)

// DefaultPollInterval bounds how long the scheduler sleeps between checks.
const DefaultPollInterval = 30 * time.Second

// noWindow marks a scheduler that has not checked yet.
const noWindow = -2

// Config holds the scheduler configuration
type Config struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// Source provides the occurrences to watch and change signals.
// *lifecycle.Manager satisfies it.
type Source interface {
	OccurrencesOn(date time.Time) []calendar.Occurrence
	Subscribe() (<-chan struct{}, func())
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPollInterval sets the fallback interval between checks.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithBackgroundLogger records every emission in a background log.
func WithBackgroundLogger(bl *utils.BackgroundLogger) Option {
	return func(s *Scheduler) { s.bg = bl }
}

// Scheduler watches today's occurrences and notifies when they are due.
type Scheduler struct {
	src      Source
	notifier notification.NotificationManager
	now      func() time.Time
	poll     time.Duration
	bg       *utils.BackgroundLogger

	mu         sync.Mutex
	notified   map[string]bool
	day        calendar.DateKey
	lastMinute int
	permission notification.Permission

	wake    chan struct{}
	done    chan struct{}
	started bool
}

// New creates a scheduler. It does nothing until Enable.
func New(src Source, notifier notification.NotificationManager, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:        src,
		notifier:   notifier,
		now:        time.Now,
		poll:       DefaultPollInterval,
		notified:   make(map[string]bool),
		lastMinute: noWindow,
		permission: notification.PermissionDefault,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enable asks the notifier for permission and, when granted, starts the
// check loop with an immediate check. The loop ends with ctx.
func (s *Scheduler) Enable(ctx context.Context) notification.Permission {
	perm := s.notifier.RequestPermission()

	s.mu.Lock()
	s.permission = perm
	start := perm == notification.PermissionGranted && !s.started
	if start {
		s.started = true
	}
	s.mu.Unlock()

	if !start {
		if perm != notification.PermissionGranted {
			utils.Debugf("notifications %s, scheduler disabled", perm)
		}
		return perm
	}
	go s.loop(ctx)
	return perm
}

// Permission returns the last permission answer.
func (s *Scheduler) Permission() notification.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Done is closed when the loop started by Enable has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Wake requests an immediate check, e.g. after the store changed or the
// user came back. Extra wakes coalesce.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	changes, unsubscribe := s.src.Subscribe()
	defer unsubscribe()

	now := s.now()
	s.Check(now)
	timer := time.NewTimer(s.NextWake(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
		}
		now = s.now()
		s.Check(now)
		timer.Reset(s.NextWake(now))
	}
}

// rollover resets per-day state when now is on a new day. Caller holds mu.
func (s *Scheduler) rollover(today calendar.DateKey) {
	if s.day == today {
		return
	}
	if s.day != "" {
		// Running across midnight: the new day's window starts at 00:00.
		s.lastMinute = -1
	}
	s.day = today
	s.notified = make(map[string]bool)
}

func (s *Scheduler) due(minute, nowMinute int) bool {
	if minute == nowMinute {
		return true
	}
	return s.lastMinute != noWindow && s.lastMinute < minute && minute <= nowMinute
}

// Check notifies every incomplete occurrence of today whose time has come
// since the previous check and returns their instance keys.
func (s *Scheduler) Check(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := calendar.FormatDateKey(now)
	s.rollover(today)
	nowMinute := calendar.MinuteOfDay(now)
	if s.lastMinute > nowMinute {
		// Clock moved backwards; only the current minute is due.
		s.lastMinute = noWindow
	}

	var emitted []string
	for _, occ := range s.src.OccurrencesOn(now) {
		key := occ.InstanceKey()
		if occ.IsCompleted() {
			delete(s.notified, key)
			continue
		}
		task := occ.Task()
		if task.Time == "" || s.notified[key] {
			continue
		}
		minute, err := calendar.ParseClock(task.Time)
		if err != nil || !s.due(minute, nowMinute) {
			continue
		}

		s.notified[key] = true
		emitted = append(emitted, key)
		n := notification.TaskDue(task.Title, task.Time, key, now)
		if err := s.notifier.Send(n); err != nil {
			utils.Warnf("notify %s: %v", key, err)
			continue
		}
		if s.bg != nil {
			s.bg.Printf("notified %s: %s", key, n.Message)
		}
	}

	if s.lastMinute == noWindow || nowMinute > s.lastMinute {
		s.lastMinute = nowMinute
	}
	if len(emitted) > 0 {
		utils.Debugf("notified %d task(s) at %s", len(emitted), calendar.FormatClock(now))
	}
	return emitted
}

// NextWake returns how long to sleep after a check at now: until the next
// pending occurrence's minute, the next midnight, or the poll interval,
// whichever comes first.
func (s *Scheduler) NextWake(now time.Time) time.Duration {
	wait := s.poll
	if d := calendar.NextMidnight(now).Sub(now); d < wait {
		wait = d
	}

	nowMinute := calendar.MinuteOfDay(now)
	start := calendar.StartOfDay(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, occ := range s.src.OccurrencesOn(now) {
		if occ.IsCompleted() || s.notified[occ.InstanceKey()] {
			continue
		}
		minute, err := calendar.ParseClock(occ.Task().Time)
		if err != nil || minute <= nowMinute {
			continue
		}
		at := time.Date(start.Year(), start.Month(), start.Day(), minute/60, minute%60, 0, 0, now.Location())
		if d := at.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Notified returns the instance keys already notified today, sorted.
func (s *Scheduler) Notified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.notified))
	for k := range s.notified {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
