package db_test

import (
	"context"
	"testing"
	"testing/fstest"

	dbfs "github.com/garnizeh/cvpipe/db"
	"github.com/garnizeh/cvpipe/internal/db"
)

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()

	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	defer d.Close()

	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	var count int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("scan schema_migrations count: %v", err)
	}
	if count < 1 {
		t.Fatalf("expected at least 1 migration recorded, got %d", count)
	}

	for _, table := range []string{"drafts", "analysis_jobs", "analyses", "queue_messages", "dead_letter_messages"} {
		var name string
		row := d.QueryRow(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table)
		if err := row.Scan(&name); err != nil {
			t.Fatalf("expected %s table exists: %v", table, err)
		}
	}
}

func TestMigrate_FailedFileIsNotRecorded(t *testing.T) {
	ctx := context.Background()

	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	defer d.Close()

	fsys := fstest.MapFS{
		"migrations/0001_ok.sql":     {Data: []byte(`CREATE TABLE a (id INTEGER PRIMARY KEY);`)},
		"migrations/0002_broken.sql": {Data: []byte(`CREATE TABLE b (id INTEGER PRIMARY KEY); INSERT INTO nope VALUES (1);`)},
		"migrations/README.md":       {Data: []byte(`ignored`)},
	}
	if err := db.Migrate(ctx, d, fsys); err == nil {
		t.Fatalf("expected error from broken migration")
	}

	applied, err := db.AppliedMigrations(ctx, d)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0001_ok" {
		t.Fatalf("applied = %v, want [0001_ok]", applied)
	}

	var n int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='b'`).Scan(&n); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 0 {
		t.Fatalf("table from the failed migration should be rolled back")
	}

	// fixing the file lets the next run finish
	fsys["migrations/0002_broken.sql"] = &fstest.MapFile{Data: []byte(`CREATE TABLE b (id INTEGER PRIMARY KEY);`)}
	if err := db.Migrate(ctx, d, fsys); err != nil {
		t.Fatalf("migrate after fix: %v", err)
	}
	applied, _ = db.AppliedMigrations(ctx, d)
	if len(applied) != 2 {
		t.Fatalf("applied = %v, want two versions", applied)
	}
}
