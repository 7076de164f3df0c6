package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"testing"

	"github.com/dojoverse/dojosync/internal/backend"
	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/interaction"
	"github.com/dojoverse/dojosync/internal/models"
)

func op(id string, opType models.OperationType, data map[string]interface{}) *models.OfflineOperation {
	return &models.OfflineOperation{
		ID:     id,
		Type:   opType,
		UserID: "user-1",
		Data:   data,
	}
}

// TestPartitionBatches verifies size bounds, key separation, and FIFO order.
func TestPartitionBatches(t *testing.T) {
	var ops []*models.OfflineOperation
	for i := 0; i < 12; i++ {
		ops = append(ops, op(fmt.Sprintf("op-%d", i), models.OpToggleKataLike,
			map[string]interface{}{"target_id": fmt.Sprintf("k-%d", i), "target_type": "kata"}))
	}

	batches := partitionBatches(ops, 5)
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3 (5+5+2)", len(batches))
	}

	var flattened []string
	for _, batch := range batches {
		if len(batch) > 5 {
			t.Errorf("batch size = %d, want <= 5", len(batch))
		}
		for _, o := range batch {
			flattened = append(flattened, o.ID)
		}
	}
	for i, id := range flattened {
		if id != fmt.Sprintf("op-%d", i) {
			t.Fatalf("flattened order broken at %d: %s", i, id)
		}
	}
}

// TestPartitionBatches_sameEntity verifies operations sharing an entity key
// never share a batch.
func TestPartitionBatches_sameEntity(t *testing.T) {
	ops := []*models.OfflineOperation{
		op("op-1", models.OpUpdateComment, map[string]interface{}{"comment_id": "c-1"}),
		op("op-2", models.OpToggleKataLike, map[string]interface{}{"target_id": "k-1", "target_type": "kata"}),
		op("op-3", models.OpDeleteComment, map[string]interface{}{"comment_id": "c-1"}),
		op("op-4", models.OpToggleKataLike, map[string]interface{}{"target_id": "k-2", "target_type": "kata"}),
	}

	batches := partitionBatches(ops, 5)
	for _, batch := range batches {
		seen := make(map[string]bool)
		for _, o := range batch {
			key := o.EntityKey()
			if seen[key] {
				t.Fatalf("entity key %s appears twice in one batch", key)
			}
			seen[key] = true
		}
	}

	// The edit and the delete on c-1 must run in separate sequential batches,
	// edit first.
	if len(batches) < 2 {
		t.Fatalf("batches = %d, want >= 2", len(batches))
	}
	if batches[0][0].ID != "op-1" {
		t.Errorf("first batch starts with %s, want op-1", batches[0][0].ID)
	}
	if batches[1][0].ID != "op-3" {
		t.Errorf("second batch starts with %s, want op-3", batches[1][0].ID)
	}
}

// orderingClient records the order in which inserts reach the backend.
type orderingClient struct {
	*backend.MemoryClient
	mu       gosync.Mutex
	inserted []string
}

func (c *orderingClient) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	c.mu.Lock()
	c.inserted = append(c.inserted, row.String("content"))
	c.mu.Unlock()
	return c.MemoryClient.Insert(ctx, table, row)
}

// TestDrainQueue_fifoForSameEntity verifies same-entity operations replay in
// enqueue order even though batches run concurrently internally.
func TestDrainQueue_fifoForSameEntity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ordering := &orderingClient{MemoryClient: env.mem}
	env.orch.backend = ordering
	env.orch.interactions = interaction.NewClient(ordering, env.detector, nil)

	for i := 0; i < 7; i++ {
		err := env.queue.Add(ctx, op(fmt.Sprintf("op-%d", i), models.OpAddComment,
			map[string]interface{}{
				"target_id": "k-1", "target_type": "kata",
				"content": fmt.Sprintf("comment-%d", i),
			}))
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	result := env.orch.drainQueue(ctx)
	if !result.Success || result.ItemsProcessed != 7 {
		t.Fatalf("drain = %+v, want 7 processed", result)
	}

	ordering.mu.Lock()
	defer ordering.mu.Unlock()
	if len(ordering.inserted) != 7 {
		t.Fatalf("inserts = %d, want 7", len(ordering.inserted))
	}
	for i, content := range ordering.inserted {
		if content != fmt.Sprintf("comment-%d", i) {
			t.Fatalf("insert order broken at %d: %s", i, content)
		}
	}
}

// TestDrainQueue_conflictIsTerminal verifies a version conflict marks the
// operation failed, records exactly one conflict, and never retries.
func TestDrainQueue_conflictIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mem.Seed("comments", []backend.Row{
		{"id": "c-1", "target_id": "k-1", "target_type": "kata",
			"user_id": "user-1", "content": "server copy", "version": 5},
	})

	err := env.queue.Add(ctx, op("op-1", models.OpUpdateComment, map[string]interface{}{
		"comment_id": "c-1", "content": "stale edit", "version": float64(3),
	}))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	result := env.orch.drainQueue(ctx)
	if result.Success || result.ItemsFailed != 1 {
		t.Fatalf("drain = %+v, want 1 failed", result)
	}

	failed, err := env.queue.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}
	if !strings.HasPrefix(failed.Error, "["+string(errors.ErrSyncConflict)+"]") {
		t.Errorf("error = %q, want SYNC_CONFLICT prefix", failed.Error)
	}

	// A second drain must not resurrect the conflicted operation.
	result = env.orch.drainQueue(ctx)
	if !result.Success || result.ItemsProcessed != 0 {
		t.Fatalf("second drain = %+v, want empty success", result)
	}

	conflicts, err := env.detector.Unresolved(ctx)
	if err != nil {
		t.Fatalf("Unresolved failed: %v", err)
	}
	if len(conflicts) != 1 {
		t.Errorf("conflicts recorded = %d, want exactly 1", len(conflicts))
	}
}

// TestDrainQueue_transientRetry verifies a transient failure leaves the
// operation eligible for the next drain, which then succeeds.
func TestDrainQueue_transientRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.queue.Add(ctx, op("op-1", models.OpToggleKataLike,
		map[string]interface{}{"target_id": "k-1", "target_type": "kata"}))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	env.mem.FailWith(errors.New(errors.ErrNetwork, "connection reset"))
	result := env.orch.drainQueue(ctx)
	if result.Success || result.ItemsFailed != 1 {
		t.Fatalf("drain = %+v, want 1 failed", result)
	}

	env.mem.FailWith(nil)
	result = env.orch.drainQueue(ctx)
	if !result.Success || result.ItemsProcessed != 1 {
		t.Fatalf("retry drain = %+v, want 1 processed", result)
	}

	if all, _ := env.queue.All(ctx); len(all) != 0 {
		t.Errorf("queue length after retry = %d, want 0", len(all))
	}
	if rows := env.mem.Rows("interactions"); len(rows) != 1 {
		t.Errorf("interaction rows = %d, want 1", len(rows))
	}
}

// TestDispatch_unknownType verifies an unrecognized type fails terminally
// instead of retrying forever. Unknown types can reach an old binary when a
// newer app version writes the queue.
func TestDispatch_unknownType(t *testing.T) {
	env := newTestEnv(t)

	err := env.orch.dispatch(context.Background(), &models.OfflineOperation{
		ID: "op-x", Type: "time_travel", UserID: "user-1",
		Data: map[string]interface{}{},
	})
	if !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("dispatch unknown type = %v, want INVALID_INPUT", err)
	}
}
