// Package backend provides unit tests for the table-style HTTP client.
package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dojoverse/dojosync/internal/errors"
)

func newTestClient(handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewHTTPClient(HTTPConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	})
	return client, server
}

// TestSelect verifies filter, order, and limit encoding plus row decoding.
func TestSelect(t *testing.T) {
	var gotQuery string
	var gotAPIKey string

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAPIKey = r.Header.Get("apikey")
		json.NewEncoder(w).Encode([]Row{
			{"id": "k-1", "name": "Pinan Shodan", "like_count": float64(3)},
		})
	})
	defer server.Close()

	rows, err := client.Select(context.Background(), Query{
		Table:   "katas",
		Filters: []Filter{Eq("style", "wado-ryu")},
		OrderBy: "id",
		Limit:   50,
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].String("id") != "k-1" {
		t.Errorf("id = %s", rows[0].String("id"))
	}
	if rows[0].Int("like_count") != 3 {
		t.Errorf("like_count = %d", rows[0].Int("like_count"))
	}
	if gotAPIKey != "test-key" {
		t.Errorf("apikey header = %q", gotAPIKey)
	}
	for _, want := range []string{"style=eq.wado-ryu", "order=id.asc", "limit=50"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

// TestInsert verifies the created representation round-trip.
func TestInsert(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("Prefer header = %q", r.Header.Get("Prefer"))
		}
		var row Row
		json.NewDecoder(r.Body).Decode(&row)
		row["id"] = "generated-1"
		json.NewEncoder(w).Encode([]Row{row})
	})
	defer server.Close()

	created, err := client.Insert(context.Background(), "comments", Row{
		"content": "Nice kata",
		"user_id": "user-1",
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if created.String("id") != "generated-1" {
		t.Errorf("created id = %s", created.String("id"))
	}
	if created.String("content") != "Nice kata" {
		t.Errorf("created content = %s", created.String("content"))
	}
}

// TestUpdate verifies the changed-row count.
func TestUpdate(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		json.NewEncoder(w).Encode([]Row{{"id": "c-1"}})
	})
	defer server.Close()

	n, err := client.Update(context.Background(), "comments",
		[]Filter{Eq("id", "c-1")}, Row{"content": "edited"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if n != 1 {
		t.Errorf("updated rows = %d, want 1", n)
	}
}

// TestDelete verifies filters reach the server.
func TestDelete(t *testing.T) {
	var gotQuery string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})
	defer server.Close()

	if err := client.Delete(context.Background(), "interactions",
		[]Filter{Eq("user_id", "u-1"), Eq("target_id", "k-1")}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !strings.Contains(gotQuery, "user_id=eq.u-1") || !strings.Contains(gotQuery, "target_id=eq.k-1") {
		t.Errorf("query %q missing filters", gotQuery)
	}
}

// TestStatusErrorMapping verifies HTTP failures map to the error taxonomy.
func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		code   errors.ErrorCode
	}{
		{http.StatusUnauthorized, errors.ErrPermission},
		{http.StatusForbidden, errors.ErrPermission},
		{http.StatusConflict, errors.ErrSyncConflict},
		{http.StatusNotFound, errors.ErrNotFound},
		{http.StatusInternalServerError, errors.ErrBackend},
		{http.StatusBadRequest, errors.ErrInvalid},
	}

	for _, tc := range cases {
		status := tc.status
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.Select(context.Background(), Query{Table: "katas"})
		if !errors.Is(err, tc.code) {
			t.Errorf("status %d: error = %v, want code %s", tc.status, err, tc.code)
		}
		server.Close()
	}
}

// TestSelect_timeout verifies the per-query timeout aborts a slow call.
func TestSelect_timeout(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode([]Row{})
	})
	defer server.Close()

	_, err := client.Select(context.Background(), Query{
		Table:   "katas",
		Timeout: 20 * time.Millisecond,
	})
	if !errors.Is(err, errors.ErrBackendTimeout) {
		t.Errorf("error = %v, want BACKEND_TIMEOUT", err)
	}
}
