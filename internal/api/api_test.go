package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dojoverse/dojosync/internal/backend"
	"github.com/dojoverse/dojosync/internal/cache"
	"github.com/dojoverse/dojosync/internal/conflict"
	"github.com/dojoverse/dojosync/internal/db"
	"github.com/dojoverse/dojosync/internal/interaction"
	"github.com/dojoverse/dojosync/internal/models"
	"github.com/dojoverse/dojosync/internal/queue"
	syncpkg "github.com/dojoverse/dojosync/internal/sync"
)

type apiEnv struct {
	server   *httptest.Server
	queue    *queue.Queue
	detector *conflict.Detector
	orch     *syncpkg.Orchestrator
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	mem := backend.NewMemoryClient()
	q := queue.New(database)
	detector := conflict.NewDetector(database)
	client := interaction.NewClient(mem, detector, nil)
	orch := syncpkg.NewOrchestrator(q, cache.NewStore(database), mem, client, nil)

	server := httptest.NewServer(NewRouter(NewHandler(orch, q, detector)))
	t.Cleanup(server.Close)

	return &apiEnv{server: server, queue: q, detector: detector, orch: orch}
}

func getJSON(t *testing.T, url string, into interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// TestHealth verifies the liveness endpoint.
func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	var body map[string]string
	if status := getJSON(t, env.server.URL+"/api/v1/health", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

// TestSyncStatus verifies the status payload includes the pending count.
func TestSyncStatus(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	env.queue.Add(ctx, &models.OfflineOperation{
		ID: "op-1", Type: models.OpToggleKataLike, UserID: "user-1",
		Data: map[string]interface{}{"target_id": "k-1"},
	})

	var body struct {
		Status            string `json:"status"`
		PendingOperations int    `json:"pending_operations"`
	}
	if status := getJSON(t, env.server.URL+"/api/v1/sync/status", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body.Status != "idle" {
		t.Errorf("sync status = %s, want idle", body.Status)
	}
	if body.PendingOperations != 1 {
		t.Errorf("pending = %d, want 1", body.PendingOperations)
	}
}

// TestPauseResume verifies the pause endpoints flip engine state.
func TestPauseResume(t *testing.T) {
	env := newAPIEnv(t)

	if status := postJSON(t, env.server.URL+"/api/v1/sync/pause"); status != http.StatusOK {
		t.Fatalf("pause status = %d", status)
	}
	if !env.orch.Paused() {
		t.Error("engine not paused after POST /sync/pause")
	}

	if status := postJSON(t, env.server.URL+"/api/v1/sync/resume"); status != http.StatusOK {
		t.Fatalf("resume status = %d", status)
	}
	if env.orch.Paused() {
		t.Error("engine still paused after POST /sync/resume")
	}
}

// TestTriggerSync verifies manual triggering returns 202.
func TestTriggerSync(t *testing.T) {
	env := newAPIEnv(t)
	if status := postJSON(t, env.server.URL+"/api/v1/sync/trigger"); status != http.StatusAccepted {
		t.Errorf("trigger status = %d, want 202", status)
	}
}

// captureEngine records the context its FullSync receives.
type captureEngine struct {
	ctxCh chan context.Context
}

func (e *captureEngine) FullSync(ctx context.Context) []models.SyncResult {
	e.ctxCh <- ctx
	return nil
}

func (e *captureEngine) DrainQueue(ctx context.Context) models.SyncResult { return models.SyncResult{} }

func (e *captureEngine) ComprehensiveCache(ctx context.Context) models.SyncResult {
	return models.SyncResult{}
}

func (e *captureEngine) Status() syncpkg.Status { return syncpkg.StatusIdle }

func (e *captureEngine) Results() []models.SyncResult { return nil }

func (e *captureEngine) LastSync() *time.Time { return nil }

func (e *captureEngine) Pause() {}

func (e *captureEngine) Resume() {}

func (e *captureEngine) Paused() bool { return false }

// TestTriggerSync_outlivesRequest verifies the triggered pass runs with a
// context that survives the trigger request. The server cancels a request's
// context as soon as the handler returns, so a pass inheriting it would see
// every backend call fail with context canceled.
func TestTriggerSync_outlivesRequest(t *testing.T) {
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	eng := &captureEngine{ctxCh: make(chan context.Context, 1)}
	server := httptest.NewServer(NewRouter(NewHandler(eng, queue.New(database), conflict.NewDetector(database))))
	t.Cleanup(server.Close)

	if status := postJSON(t, server.URL+"/api/v1/sync/trigger"); status != http.StatusAccepted {
		t.Fatalf("trigger status = %d, want 202", status)
	}

	select {
	case ctx := <-eng.ctxCh:
		// The trigger response is done; give the request context's
		// cancellation time to propagate before checking.
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			t.Fatalf("background pass context is dead: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("FullSync was not invoked after trigger")
	}
}

// TestConflicts verifies listing and resolving conflicts.
func TestConflicts(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	_, err := env.detector.DetectConflict(ctx, "kata", "c-1",
		map[string]interface{}{"version": 1},
		map[string]interface{}{"version": 3}, "user-1")
	if err != nil {
		t.Fatalf("DetectConflict failed: %v", err)
	}

	var conflicts []models.Conflict
	if status := getJSON(t, env.server.URL+"/api/v1/conflicts/", &conflicts); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}

	url := env.server.URL + "/api/v1/conflicts/" + conflicts[0].ID + "/resolve"
	if status := postJSON(t, url); status != http.StatusOK {
		t.Fatalf("resolve status = %d", status)
	}

	if status := getJSON(t, env.server.URL+"/api/v1/conflicts/", &conflicts); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(conflicts) != 0 {
		t.Errorf("conflicts after resolve = %d, want 0", len(conflicts))
	}

	// Resolving a missing conflict maps to 404.
	if status := postJSON(t, env.server.URL+"/api/v1/conflicts/missing/resolve"); status != http.StatusNotFound {
		t.Errorf("missing resolve status = %d, want 404", status)
	}
}

// TestQueueContents verifies the queue listing.
func TestQueueContents(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	env.queue.Add(ctx, &models.OfflineOperation{
		ID: "op-1", Type: models.OpAddComment, UserID: "user-1",
		Data: map[string]interface{}{"target_id": "k-1", "content": "text"},
	})

	var ops []models.OfflineOperation
	if status := getJSON(t, env.server.URL+"/api/v1/queue", &ops); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(ops) != 1 || ops[0].ID != "op-1" {
		t.Errorf("ops = %+v", ops)
	}
}
