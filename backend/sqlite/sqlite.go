// Package sqlite provides a local TaskStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"todocal/backend"
	"todocal/internal/calendar"
)

// migrations are applied in order; schema_version records the last one.
var migrations = []string{
	// 1: templates per anchor date, ordered by position
	`CREATE TABLE IF NOT EXISTS days (
		date_key TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS templates (
		date_key TEXT NOT NULL REFERENCES days(date_key),
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		time TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		is_repeating INTEGER NOT NULL DEFAULT 0,
		repeat_type TEXT NOT NULL DEFAULT '',
		repeat_days TEXT NOT NULL DEFAULT '',
		original_date TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_templates_day ON templates(date_key, position);`,
	// 2: completion overlay
	`CREATE TABLE IF NOT EXISTS completions (
		instance_key TEXT PRIMARY KEY,
		completed INTEGER NOT NULL
	);`,
}

// Backend implements backend.TaskStore using SQLite
type Backend struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at path and migrates it.
func New(path string) (*Backend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, path: path}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// Path returns the database file path.
func (b *Backend) Path() string {
	return b.path
}

// initSchema applies pending migrations
func (b *Backend) initSchema() error {
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := b.db.Exec(pragma); err != nil {
			return err
		}
	}

	if _, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return err
	}

	current, err := b.SchemaVersion(context.Background())
	if err != nil {
		return err
	}
	for i := current; i < len(migrations); i++ {
		tx, err := b.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			i+1, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the last applied migration number.
func (b *Backend) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := b.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// FetchAll returns the full store including the completion overlay
func (b *Backend) FetchAll(ctx context.Context) (*calendar.Store, error) {
	store := calendar.NewStore()

	dayRows, err := b.db.QueryContext(ctx, "SELECT date_key FROM days")
	if err != nil {
		return nil, err
	}
	for dayRows.Next() {
		var key string
		if err := dayRows.Scan(&key); err != nil {
			_ = dayRows.Close()
			return nil, err
		}
		store.Days[calendar.DateKey(key)] = []calendar.Template{}
	}
	_ = dayRows.Close()
	if err := dayRows.Err(); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `SELECT date_key, id, title, time, completed, is_repeating,
		repeat_type, repeat_days, original_date FROM templates ORDER BY date_key, position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			key, repeatType, repeatDays, originalDate string
			t                                         calendar.Template
		)
		if err := rows.Scan(&key, &t.ID, &t.Title, &t.Time, &t.Completed, &t.IsRepeating,
			&repeatType, &repeatDays, &originalDate); err != nil {
			return nil, err
		}
		t.RepeatType = calendar.RepeatType(repeatType)
		t.RepeatDays = decodeDays(repeatDays)
		t.OriginalDate = calendar.DateKey(originalDate)
		store.Append(calendar.DateKey(key), t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	compRows, err := b.db.QueryContext(ctx, "SELECT instance_key, completed FROM completions")
	if err != nil {
		return nil, err
	}
	defer func() { _ = compRows.Close() }()
	for compRows.Next() {
		var key string
		var done bool
		if err := compRows.Scan(&key, &done); err != nil {
			return nil, err
		}
		store.Completions[key] = done
	}
	return store, compRows.Err()
}

// Create appends a template to dateKey's list
func (b *Backend) Create(ctx context.Context, dateKey calendar.DateKey, t calendar.Template) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO days (date_key) VALUES (?)", string(dateKey)); err != nil {
		return err
	}
	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position) + 1, 0) FROM templates WHERE date_key = ?", string(dateKey),
	).Scan(&next); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO templates (date_key, position, id, title, time, completed,
		is_repeating, repeat_type, repeat_days, original_date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(dateKey), next, t.ID, t.Title, t.Time, t.Completed, t.IsRepeating,
		string(t.RepeatType), encodeDays(t.RepeatDays), string(t.OriginalDate),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Update replaces the template at index in dateKey's list
func (b *Backend) Update(ctx context.Context, dateKey calendar.DateKey, index int, t calendar.Template) error {
	res, err := b.db.ExecContext(ctx, `UPDATE templates SET id = ?, title = ?, time = ?, completed = ?,
		is_repeating = ?, repeat_type = ?, repeat_days = ?, original_date = ?
		WHERE date_key = ? AND position = ?`,
		t.ID, t.Title, t.Time, t.Completed, t.IsRepeating, string(t.RepeatType),
		encodeDays(t.RepeatDays), string(t.OriginalDate), string(dateKey), index,
	)
	if err != nil {
		return err
	}
	return requireRow(res, dateKey, index)
}

// Remove deletes the template at index in dateKey's list and closes the gap
func (b *Backend) Remove(ctx context.Context, dateKey calendar.DateKey, index int) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM templates WHERE date_key = ? AND position = ?", string(dateKey), index)
	if err != nil {
		return err
	}
	if err := requireRow(res, dateKey, index); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE templates SET position = position - 1 WHERE date_key = ? AND position > ?", string(dateKey), index,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SetCompletions replaces the whole completion overlay
func (b *Backend) SetCompletions(ctx context.Context, overlay calendar.Overlay) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM completions"); err != nil {
		return err
	}
	for key, done := range overlay {
		if _, err := tx.ExecContext(ctx, "INSERT INTO completions (instance_key, completed) VALUES (?, ?)", key, done); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database connection
func (b *Backend) Close() error {
	return b.db.Close()
}

func requireRow(res sql.Result, dateKey calendar.DateKey, index int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s[%d]: %w", dateKey, index, backend.ErrIndexOutOfRange)
	}
	return nil
}

// encodeDays stores weekdays as "1,3,5".
func encodeDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

var _ backend.TaskStore = (*Backend)(nil)
