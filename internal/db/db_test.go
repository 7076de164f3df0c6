package db

import (
	"testing"
)

// TestOpen verifies database creation, pragmas, and migrations.
func TestOpen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	// WAL mode should be active
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	// Migrations should have created the core tables
	tables := []string{
		"offline_operations", "conflicts",
		"cached_katas", "cached_ohyo", "cached_forum_posts", "settings",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

// TestOpen_idempotent verifies re-opening an existing database succeeds and
// does not re-apply migrations.
func TestOpen_idempotent(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer db.Close()
}

// TestOpenInMemory verifies the in-memory variant used by tests.
func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?)", "k", "v",
	); err != nil {
		t.Fatalf("insert into settings failed: %v", err)
	}

	var value string
	if err := db.QueryRow("SELECT value FROM settings WHERE key = ?", "k").Scan(&value); err != nil {
		t.Fatalf("select from settings failed: %v", err)
	}
	if value != "v" {
		t.Errorf("value = %q, want v", value)
	}
}
