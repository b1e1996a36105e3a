package testutil

import (
	"context"
	"fmt"
	"sync"

	"todocal/backend"
	"todocal/internal/calendar"
)

// MemoryStore is an in-memory backend.TaskStore for tests. It records every
// call and lets a test fail or block individual operations through Hook.
type MemoryStore struct {
	mu    sync.Mutex
	data  *calendar.Store
	calls []string

	// Hook, if set, runs before each operation with the operation name
	// ("fetch", "create", "update", "remove", "completions"). A non-nil
	// return fails the call without touching the data.
	Hook func(op string) error

	closed bool
}

// NewMemoryStore returns a store seeded with a deep copy of seed (nil means empty).
func NewMemoryStore(seed *calendar.Store) *MemoryStore {
	if seed == nil {
		seed = calendar.NewStore()
	}
	return &MemoryStore{data: seed.Clone()}
}

func (m *MemoryStore) before(op string) error {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	hook := m.Hook
	m.mu.Unlock()
	if hook != nil {
		return hook(op)
	}
	return nil
}

// FetchAll returns a copy of the stored data.
func (m *MemoryStore) FetchAll(ctx context.Context) (*calendar.Store, error) {
	if err := m.before("fetch"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone(), nil
}

// Create appends t to dateKey.
func (m *MemoryStore) Create(ctx context.Context, dateKey calendar.DateKey, t calendar.Template) error {
	if err := m.before("create"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Append(dateKey, t.Clone())
	return nil
}

// Update replaces the template at index.
func (m *MemoryStore) Update(ctx context.Context, dateKey calendar.DateKey, index int, t calendar.Template) error {
	if err := m.before("update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.data.Days[dateKey]) {
		return fmt.Errorf("update %s[%d]: %w", dateKey, index, backend.ErrIndexOutOfRange)
	}
	m.data.Replace(dateKey, index, t.Clone())
	return nil
}

// Remove deletes the template at index.
func (m *MemoryStore) Remove(ctx context.Context, dateKey calendar.DateKey, index int) error {
	if err := m.before("remove"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.data.Days[dateKey]) {
		return fmt.Errorf("remove %s[%d]: %w", dateKey, index, backend.ErrIndexOutOfRange)
	}
	m.data.RemoveAt(dateKey, index)
	return nil
}

// SetCompletions replaces the overlay.
func (m *MemoryStore) SetCompletions(ctx context.Context, overlay calendar.Overlay) error {
	if err := m.before("completions"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Completions = overlay.Clone()
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Data returns a copy of what has been persisted.
func (m *MemoryStore) Data() *calendar.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

// Calls returns the operation names received so far, in order.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Closed reports whether Close was called.
func (m *MemoryStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
