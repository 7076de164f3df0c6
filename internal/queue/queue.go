// Package queue provides the durable store of pending offline operations.
// Every mutation persists immediately; a process restart never loses a
// pending operation. The queue does not retry by itself; retry is the
// orchestrator's responsibility.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dojoverse/dojosync/internal/db"
	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/models"
)

// Queue is the single source of truth for work not yet confirmed by the
// server. Operations are drained in enqueue (FIFO) order.
type Queue struct {
	db *db.DB

	mu        sync.Mutex
	subs      map[int]chan []*models.OfflineOperation
	nextSubID int
}

// New creates a Queue backed by the given database.
func New(database *db.DB) *Queue {
	return &Queue{
		db:   database,
		subs: make(map[int]chan []*models.OfflineOperation),
	}
}

// Add appends an operation with status pending. The operation id is a
// natural key: adding the same id twice is a no-op, so replays after a crash
// cannot duplicate work.
func (q *Queue) Add(ctx context.Context, op *models.OfflineOperation) error {
	if op.ID == "" {
		return errors.New(errors.ErrInvalid, "operation id is required")
	}
	if !op.Type.Valid() {
		return errors.Newf(errors.ErrInvalid, "unknown operation type %q", op.Type)
	}
	if op.UserID == "" {
		return errors.New(errors.ErrInvalid, "operation user id is required")
	}

	if op.Status == "" {
		op.Status = models.StatusPending
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(op.Data)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to encode operation data", err)
	}

	res, err := q.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO offline_operations (id, type, status, data, user_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.Type, op.Status, string(data), op.UserID, op.CreatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to enqueue operation", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		logging.Debug("Operation already queued, ignoring duplicate",
			map[string]interface{}{"operation_id": op.ID})
		return nil
	}

	logging.Info("Operation enqueued",
		map[string]interface{}{"operation_id": op.ID, "type": op.Type})

	q.notify(ctx)
	return nil
}

// Pending returns operations with status pending or processing, in enqueue
// order. Later mutations may depend on earlier ones for the same entity, so
// the order is binding.
func (q *Queue) Pending(ctx context.Context) ([]*models.OfflineOperation, error) {
	return q.query(ctx, `
	SELECT seq, id, type, status, data, user_id, error, created_at, processed_at
	FROM offline_operations
	WHERE status IN (?, ?)
	ORDER BY seq`, models.StatusPending, models.StatusProcessing)
}

// All returns every operation currently in the queue, in enqueue order.
func (q *Queue) All(ctx context.Context) ([]*models.OfflineOperation, error) {
	return q.query(ctx, `
	SELECT seq, id, type, status, data, user_id, error, created_at, processed_at
	FROM offline_operations
	ORDER BY seq`)
}

// Get returns a single operation by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.OfflineOperation, error) {
	ops, err := q.query(ctx, `
	SELECT seq, id, type, status, data, user_id, error, created_at, processed_at
	FROM offline_operations
	WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.Newf(errors.ErrNotFound, "operation %s not found", id)
	}
	return ops[0], nil
}

// Update transitions an operation's state. processedAt and errMsg are
// optional; pass nil / empty to leave the columns untouched.
func (q *Queue) Update(ctx context.Context, id string, status models.OperationStatus, processedAt *int64, errMsg string) error {
	query := "UPDATE offline_operations SET status = ?"
	args := []interface{}{status}

	if processedAt != nil {
		query += ", processed_at = ?"
		args = append(args, *processedAt)
	}
	if errMsg != "" {
		query += ", error = ?"
		args = append(args, errMsg)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to update operation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "operation %s not found", id)
	}

	q.notify(ctx)
	return nil
}

// MarkFailed records a failure on an operation. The stored error message
// keeps the error code prefix, which is how the drain path later tells a
// terminal conflict from a transient failure.
func (q *Queue) MarkFailed(ctx context.Context, id string, opErr error) error {
	now := time.Now().Unix()
	msg := "unknown error"
	if opErr != nil {
		msg = opErr.Error()
	}

	logging.Warn("Operation failed",
		map[string]interface{}{"operation_id": id, "error": msg})

	return q.Update(ctx, id, models.StatusFailed, &now, msg)
}

// Remove deletes an operation after the server confirmed it.
func (q *Queue) Remove(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM offline_operations WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to remove operation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "operation %s not found", id)
	}

	logging.Info("Operation removed", map[string]interface{}{"operation_id": id})

	q.notify(ctx)
	return nil
}

// ResetRetryable flips retryable failed operations back to pending so the
// next drain picks them up. Conflict-flagged and permission failures stay
// failed: they are terminal until a human intervenes. Returns the number of
// operations reset.
func (q *Queue) ResetRetryable(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
	UPDATE offline_operations
	SET status = ?, error = NULL, processed_at = NULL
	WHERE status = ?
	  AND (error IS NULL
	       OR (error NOT LIKE '['||?||']%' AND error NOT LIKE '['||?||']%'))`,
		models.StatusPending, models.StatusFailed,
		string(errors.ErrSyncConflict), string(errors.ErrPermission))
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to reset failed operations", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("Reset failed operations for retry",
			map[string]interface{}{"count": n})
		q.notify(ctx)
	}
	return int(n), nil
}

// PendingCount returns the number of operations awaiting confirmation.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM offline_operations WHERE status IN (?, ?)`,
		models.StatusPending, models.StatusProcessing).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to count pending operations", err)
	}
	return count, nil
}

// Subscribe returns a channel receiving the full operation set after each
// queue mutation, plus a cancel function. The channel drops intermediate
// snapshots when the receiver is slow; it always eventually carries the
// latest state. Used to drive a pending-items counter in the UI layer.
func (q *Queue) Subscribe() (<-chan []*models.OfflineOperation, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSubID
	q.nextSubID++

	ch := make(chan []*models.OfflineOperation, 1)
	q.subs[id] = ch

	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if sub, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// notify pushes the current operation set to all subscribers.
func (q *Queue) notify(ctx context.Context) {
	q.mu.Lock()
	if len(q.subs) == 0 {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	ops, err := q.All(ctx)
	if err != nil {
		logging.Error("Failed to load operations for subscribers", err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		// Replace a stale snapshot rather than blocking the mutation path.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ops:
		default:
		}
	}
}

// query runs a SELECT over offline_operations and scans the rows.
func (q *Queue) query(ctx context.Context, query string, args ...interface{}) ([]*models.OfflineOperation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query operations", err)
	}
	defer rows.Close()

	var ops []*models.OfflineOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to iterate operations", err)
	}
	return ops, nil
}

func scanOperation(rows *sql.Rows) (*models.OfflineOperation, error) {
	var (
		op          models.OfflineOperation
		data        string
		errMsg      sql.NullString
		processedAt sql.NullInt64
	)

	if err := rows.Scan(&op.Seq, &op.ID, &op.Type, &op.Status, &data,
		&op.UserID, &errMsg, &op.CreatedAt, &processedAt); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to scan operation", err)
	}

	if err := json.Unmarshal([]byte(data), &op.Data); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase,
			fmt.Sprintf("corrupt operation data for %s", op.ID), err)
	}
	if errMsg.Valid {
		op.Error = errMsg.String
	}
	if processedAt.Valid {
		op.ProcessedAt = &processedAt.Int64
	}
	return &op, nil
}
