package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	store := &Store{db: db}
	if err := store.MigrateSchema(); err != nil {
		t.Fatalf("MigrateSchema() error = %v", err)
	}
	return store
}

func TestMigrateSchema(t *testing.T) {
	store := newTestStore(t)

	// a second run is a no-op
	if err := store.MigrateSchema(); err != nil {
		t.Fatalf("MigrateSchema() rerun error = %v", err)
	}

	var name string
	err := store.db.QueryRow(`
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name = 'device_state'
	`).Scan(&name)
	if err != nil {
		t.Fatalf("expected device_state table: %v", err)
	}

	var version int
	if err := store.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("unexpected schema version: got %d want %d", version, len(migrations))
	}
}

func TestLoadDeviceEmpty(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.LoadDevice()
	if err != nil {
		t.Fatalf("LoadDevice() error = %v", err)
	}
	if ok {
		t.Fatalf("expected no saved device")
	}
}

func TestSaveDeviceRoundTrip(t *testing.T) {
	store := newTestStore(t)

	before := time.Now().Add(-time.Second)
	if err := store.SaveDevice("-24.0", "Kitchen iPad"); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}
	if err := store.SaveDevice("-12.5", "Kitchen iPad"); err != nil {
		t.Fatalf("SaveDevice() update error = %v", err)
	}

	d, ok, err := store.LoadDevice()
	if err != nil {
		t.Fatalf("LoadDevice() error = %v", err)
	}
	if !ok {
		t.Fatalf("expected saved device")
	}
	if d.Volume != "-12.5" || d.ClientName != "Kitchen iPad" {
		t.Fatalf("unexpected device: volume=%q client=%q", d.Volume, d.ClientName)
	}
	if d.UpdatedAt.Before(before.Truncate(time.Second)) {
		t.Fatalf("unexpected updated_at: %v", d.UpdatedAt)
	}

	var rows int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM device_state`).Scan(&rows); err != nil {
		t.Fatalf("count device_state: %v", err)
	}
	if rows != 1 {
		t.Fatalf("device_state rows = %d, want 1", rows)
	}
}

func TestOpenFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.SaveDevice("50", "Mac"); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	d, ok, err := reopened.LoadDevice()
	if err != nil || !ok {
		t.Fatalf("LoadDevice() = %v, %v", ok, err)
	}
	if d.ClientName != "Mac" {
		t.Fatalf("ClientName = %q, want Mac", d.ClientName)
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.Close(); err != nil {
		t.Fatalf("Close() on nil store error = %v", err)
	}
	if _, _, err := store.LoadDevice(); err == nil {
		t.Fatalf("expected error from nil store")
	}
	if err := store.SaveDevice("", ""); err == nil {
		t.Fatalf("expected error from nil store")
	}
}
