package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/models"
)

// drainQueue replays pending operations in FIFO enqueue order. Operations
// run concurrently within a batch of at most batchSize, sequentially across
// batches; no two operations sharing an entity key land in the same batch,
// so an edit-then-delete pair on one comment can never race.
func (o *Orchestrator) drainQueue(ctx context.Context) models.SyncResult {
	// Failed transient operations from earlier drains become pending again.
	// Conflict and permission failures stay terminal.
	if n, err := o.queue.ResetRetryable(ctx); err != nil {
		logging.Error("Failed to reset retryable operations", err, nil)
	} else if n > 0 {
		logging.Info("Requeued failed operations",
			map[string]interface{}{"count": n})
	}

	ops, err := o.queue.Pending(ctx)
	if err != nil {
		return failedResult(models.SyncOpQueueDrain, err)
	}

	result := models.SyncResult{
		Operation: models.SyncOpQueueDrain,
		Timestamp: time.Now(),
	}
	if len(ops) == 0 {
		result.Success = true
		return result
	}

	logging.Info("Draining offline operation queue",
		map[string]interface{}{"pending": len(ops)})

	var mu gosync.Mutex
	for _, batch := range partitionBatches(ops, batchSize) {
		var wg gosync.WaitGroup
		for _, op := range batch {
			wg.Add(1)
			go func(op *models.OfflineOperation) {
				defer wg.Done()
				ok := o.processOperation(ctx, op)
				mu.Lock()
				result.ItemsProcessed++
				if !ok {
					result.ItemsFailed++
				}
				mu.Unlock()
			}(op)
		}
		wg.Wait()
	}

	result.Success = result.ItemsFailed == 0
	if !result.Success {
		result.Error = errors.Newf(errors.ErrSyncFailed,
			"%d of %d operations failed", result.ItemsFailed, result.ItemsProcessed).Error()
	}
	return result
}

// processOperation replays one queued operation: mark processing, dispatch,
// then remove on success or mark failed. Conflicts were already handed to
// the resolver by the interaction client; here they only fix the terminal
// error on the operation.
func (o *Orchestrator) processOperation(ctx context.Context, op *models.OfflineOperation) bool {
	if err := o.queue.Update(ctx, op.ID, models.StatusProcessing, nil, ""); err != nil {
		logging.Error("Failed to mark operation processing", err,
			map[string]interface{}{"operation_id": op.ID})
		return false
	}

	if err := o.dispatch(ctx, op); err != nil {
		if errors.IsConflict(err) {
			logging.Warn("Operation hit a version conflict",
				map[string]interface{}{"operation_id": op.ID, "type": string(op.Type)})
		}
		if markErr := o.queue.MarkFailed(ctx, op.ID, err); markErr != nil {
			logging.Error("Failed to mark operation failed", markErr,
				map[string]interface{}{"operation_id": op.ID})
		}
		return false
	}

	if err := o.queue.Remove(ctx, op.ID); err != nil {
		logging.Error("Failed to remove completed operation", err,
			map[string]interface{}{"operation_id": op.ID})
		return false
	}
	return true
}

// dispatch routes an operation to the matching interaction call. The switch
// is exhaustive over the closed OperationType set; unknown types fail
// terminally rather than retrying forever.
func (o *Orchestrator) dispatch(ctx context.Context, op *models.OfflineOperation) error {
	data := op.Data

	switch op.Type {
	case models.OpToggleLike:
		_, err := o.interactions.ToggleLike(ctx,
			dataString(data, "target_id"), dataString(data, "target_type"), op.UserID)
		return err
	case models.OpToggleDislike:
		_, err := o.interactions.ToggleDislike(ctx,
			dataString(data, "target_id"), dataString(data, "target_type"), op.UserID)
		return err
	case models.OpToggleKataLike:
		_, err := o.interactions.ToggleKataLike(ctx, dataString(data, "target_id"), op.UserID)
		return err
	case models.OpToggleOhyoLike:
		_, err := o.interactions.ToggleOhyoLike(ctx, dataString(data, "target_id"), op.UserID)
		return err
	case models.OpToggleForumLike:
		_, err := o.interactions.ToggleForumLike(ctx, postID(data), op.UserID)
		return err
	case models.OpToggleForumFav:
		_, err := o.interactions.ToggleForumFavorite(ctx, postID(data), op.UserID)
		return err
	case models.OpAddComment:
		_, err := o.interactions.AddComment(ctx,
			dataString(data, "target_id"), dataString(data, "target_type"),
			op.UserID, dataString(data, "content"))
		return err
	case models.OpUpdateComment:
		return o.interactions.UpdateComment(ctx,
			dataString(data, "comment_id"), op.UserID,
			dataString(data, "content"), dataInt(data, "version"))
	case models.OpDeleteComment:
		return o.interactions.DeleteComment(ctx, dataString(data, "comment_id"), op.UserID)
	case models.OpAddForumComment:
		_, err := o.interactions.AddForumComment(ctx,
			postID(data), op.UserID, dataString(data, "content"))
		return err
	case models.OpUpdateForumComment:
		return o.interactions.UpdateForumComment(ctx,
			dataString(data, "comment_id"), op.UserID,
			dataString(data, "content"), dataInt(data, "version"))
	case models.OpDeleteForumComment:
		return o.interactions.DeleteForumComment(ctx, dataString(data, "comment_id"), op.UserID)
	}

	return errors.Newf(errors.ErrInvalid, "unknown operation type %q", op.Type)
}

// partitionBatches splits ops into FIFO-ordered batches of at most size. A
// batch closes early when the next operation's entity key already appears
// in it, so same-entity operations always run in different (sequential)
// batches.
func partitionBatches(ops []*models.OfflineOperation, size int) [][]*models.OfflineOperation {
	var batches [][]*models.OfflineOperation

	var batch []*models.OfflineOperation
	keys := make(map[string]bool)
	for _, op := range ops {
		key := op.EntityKey()
		if len(batch) == size || keys[key] {
			batches = append(batches, batch)
			batch = nil
			keys = make(map[string]bool)
		}
		batch = append(batch, op)
		keys[key] = true
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches
}

func dataString(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

// dataInt reads a numeric field; queue data round-trips through JSON, so
// numbers usually arrive as float64.
func dataInt(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// postID accepts either field name used historically for forum operations.
func postID(data map[string]interface{}) string {
	if id := dataString(data, "post_id"); id != "" {
		return id
	}
	return dataString(data, "target_id")
}
