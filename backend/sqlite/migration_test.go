package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

// TestSchemaVersionTracking verifies the database records the current schema version
func TestSchemaVersionTracking(t *testing.T) {
	b, ctx := mustNewBackend(t)

	var count int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 1 {
		t.Errorf("schema_version table does not exist")
	}

	version, err := b.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion error: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

// TestMigrationIdempotent verifies reopening does not reapply migrations
func TestMigrationIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todocal.db")
	for i := 0; i < 3; i++ {
		b, err := New(path)
		if err != nil {
			t.Fatalf("open #%d error: %v", i+1, err)
		}
		var rows int
		if err := b.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
			t.Fatalf("query error: %v", err)
		}
		if rows != len(migrations) {
			t.Errorf("open #%d: %d schema_version rows, want %d", i+1, rows, len(migrations))
		}
		_ = b.Close()
	}
}

// TestMigrationFromVersionOne verifies a database created before the overlay table upgrades
func TestMigrationFromVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todocal.db")
	b, err := New(path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx := context.Background()
	// Roll back to version 1.
	if _, err := b.db.ExecContext(ctx, "DROP TABLE completions; DELETE FROM schema_version WHERE version = 2"); err != nil {
		t.Fatalf("downgrade error: %v", err)
	}
	_ = b.Close()

	b, err = New(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer func() { _ = b.Close() }()

	if v, _ := b.SchemaVersion(ctx); v != 2 {
		t.Errorf("version after upgrade = %d, want 2", v)
	}
	if _, err := b.FetchAll(ctx); err != nil {
		t.Errorf("FetchAll after upgrade: %v", err)
	}
}
