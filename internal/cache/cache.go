// Package cache keeps an on-disk snapshot of the last store fetched from the
// backend so the app can start offline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"todocal/internal/calendar"
	"todocal/internal/utils"
)

// ErrNoSnapshot is returned by Load when no snapshot exists.
var ErrNoSnapshot = errors.New("no store snapshot")

// Snapshot is the cached store with metadata.
type Snapshot struct {
	CreatedAt time.Time       `json:"created_at"`
	Backend   string          `json:"backend"`
	Store     *calendar.Store `json:"store"`
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Save atomically writes store to path.
func Save(path, backend string, store *calendar.Store) error {
	if store == nil {
		store = calendar.NewStore()
	}
	data, err := json.Marshal(Snapshot{CreatedAt: time.Now().UTC(), Backend: backend, Store: store})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads the snapshot at path. A missing file yields ErrNoSnapshot.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", path, err)
	}
	if snap.Store == nil {
		snap.Store = calendar.NewStore()
	}
	return &snap, nil
}

// Source is a store that announces changes; *lifecycle.Manager satisfies it.
type Source interface {
	Snapshot() *calendar.Store
	Online() bool
	Subscribe() (<-chan struct{}, func())
}

// Follow rewrites the snapshot after every change published by src while it
// is online, until ctx ends.
func Follow(ctx context.Context, src Source, path, backend string) {
	changes, unsubscribe := src.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if !src.Online() {
				continue
			}
			if err := Save(path, backend, src.Snapshot()); err != nil {
				utils.Warnf("could not update store snapshot: %v", err)
			}
		}
	}
}
