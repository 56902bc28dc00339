package database

import (
	"context"
	"embed"
	"io/fs"
	"testing"
	"time"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// withTestMigrations points MigrationsFS at the testdata files, rooted so
// filenames resolve the way the migrations package embeds its own.
func withTestMigrations(t *testing.T) {
	t.Helper()

	orig := MigrationsFS
	t.Cleanup(func() { MigrationsFS = orig })

	sub, err := fs.Sub(testMigrationsFS, "testdata")
	if err != nil {
		t.Fatalf("failed to open testdata: %v", err)
	}
	MigrationsFS = sub
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	withTestMigrations(t)

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Verify table was created
	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='test_users'",
	).Scan(&tableName)
	if err != nil {
		t.Fatalf("table test_users not created: %v", err)
	}

	// Verify migration was recorded
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		t.Fatalf("appliedVersions() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("expected 1 applied migration, got %d", len(applied))
	}
	if !applied["20260101_000000"] {
		t.Errorf("applied = %v, want 20260101_000000 recorded", applied)
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrateNoMigrations verifies behaviour with no migrations.
func TestMigrateNoMigrations(t *testing.T) {
	orig := MigrationsFS
	t.Cleanup(func() { MigrationsFS = orig })

	MigrationsFS = nil

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	// Should succeed with no migrations
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

// TestLoadMigrations verifies filename parsing.
func TestLoadMigrations(t *testing.T) {
	withTestMigrations(t)

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}

	m := migrations[0]
	if m.Version != "20260101_000000" {
		t.Errorf("Version = %q, want 20260101_000000", m.Version)
	}
	if m.Name != "create_test_users" {
		t.Errorf("Name = %q, want create_test_users", m.Name)
	}
	if m.UpSQL == "" {
		t.Error("UpSQL is empty")
	}
}
