// Package conflict provides unit tests for version-conflict detection.
package conflict

import (
	"context"
	"testing"

	"github.com/dojoverse/dojosync/internal/db"
	"github.com/dojoverse/dojosync/internal/errors"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewDetector(database)
}

func payload(version int64, content string) map[string]interface{} {
	return map[string]interface{}{
		"version": version,
		"content": content,
	}
}

// TestDetectConflict_threshold verifies the conflict trigger: server strictly
// ahead raises a conflict, equal or behind does not.
func TestDetectConflict_threshold(t *testing.T) {
	cases := []struct {
		name          string
		localVersion  int64
		serverVersion int64
		wantConflict  bool
	}{
		{"server ahead", 2, 3, true},
		{"versions equal", 2, 2, false},
		{"server behind", 3, 2, false},
		{"both zero", 0, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDetector(t)
			ctx := context.Background()

			got, err := d.DetectConflict(ctx, "comment", "c-1",
				payload(tc.localVersion, "local edit"),
				payload(tc.serverVersion, "server state"),
				"user-1")
			if err != nil {
				t.Fatalf("DetectConflict failed: %v", err)
			}
			if got != tc.wantConflict {
				t.Errorf("conflict = %v, want %v", got, tc.wantConflict)
			}

			unresolved, err := d.Unresolved(ctx)
			if err != nil {
				t.Fatalf("Unresolved failed: %v", err)
			}
			wantRecords := 0
			if tc.wantConflict {
				wantRecords = 1
			}
			if len(unresolved) != wantRecords {
				t.Errorf("unresolved count = %d, want %d", len(unresolved), wantRecords)
			}
		})
	}
}

// TestDetectConflict_recordContents verifies the persisted conflict carries
// both payloads and the actor.
func TestDetectConflict_recordContents(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()

	if _, err := d.DetectConflict(ctx, "forum_comment", "c-7",
		payload(1, "my edit"), payload(4, "their edit"), "user-9"); err != nil {
		t.Fatalf("DetectConflict failed: %v", err)
	}

	unresolved, err := d.Unresolved(ctx)
	if err != nil {
		t.Fatalf("Unresolved failed: %v", err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("unresolved count = %d, want 1", len(unresolved))
	}

	c := unresolved[0]
	if c.CommentType != "forum_comment" || c.CommentID != "c-7" {
		t.Errorf("entity = %s/%s, want forum_comment/c-7", c.CommentType, c.CommentID)
	}
	if c.UserID != "user-9" {
		t.Errorf("UserID = %s, want user-9", c.UserID)
	}
	if c.LocalVersion() != 1 {
		t.Errorf("LocalVersion = %d, want 1", c.LocalVersion())
	}
	if c.ServerVersion() != 4 {
		t.Errorf("ServerVersion = %d, want 4", c.ServerVersion())
	}
	if c.LocalData["content"] != "my edit" {
		t.Errorf("local content = %v, want 'my edit'", c.LocalData["content"])
	}
	if c.DetectedAt == 0 {
		t.Error("DetectedAt should be set")
	}
}

// TestMarkResolved verifies resolved conflicts leave the unresolved list.
func TestMarkResolved(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()

	d.DetectConflict(ctx, "comment", "c-1",
		payload(1, "a"), payload(2, "b"), "user-1")

	unresolved, _ := d.Unresolved(ctx)
	if len(unresolved) != 1 {
		t.Fatalf("unresolved count = %d, want 1", len(unresolved))
	}

	if err := d.MarkResolved(ctx, unresolved[0].ID); err != nil {
		t.Fatalf("MarkResolved failed: %v", err)
	}

	unresolved, _ = d.Unresolved(ctx)
	if len(unresolved) != 0 {
		t.Errorf("unresolved count after resolve = %d, want 0", len(unresolved))
	}

	if err := d.MarkResolved(ctx, "missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("MarkResolved on missing id = %v, want NOT_FOUND", err)
	}
}

// TestDetectConflict_jsonVersions verifies float64 versions from JSON
// round-trips compare correctly.
func TestDetectConflict_jsonVersions(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()

	local := map[string]interface{}{"version": float64(2)}
	server := map[string]interface{}{"version": float64(3)}

	got, err := d.DetectConflict(ctx, "comment", "c-1", local, server, "user-1")
	if err != nil {
		t.Fatalf("DetectConflict failed: %v", err)
	}
	if !got {
		t.Error("expected conflict for float64 versions 2 vs 3")
	}
}
