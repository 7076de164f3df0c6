// Package models provides data model definitions for the DojoSync engine.
package models

import "fmt"

// OperationType identifies the kind of offline mutation an operation carries.
// The set is closed: dispatch switches over these values exhaustively, so
// adding a new type is a compile-time visible change.
type OperationType string

const (
	OpAddComment         OperationType = "add_comment"
	OpAddForumComment    OperationType = "add_forum_comment"
	OpUpdateComment      OperationType = "update_comment"
	OpDeleteComment      OperationType = "delete_comment"
	OpToggleLike         OperationType = "toggle_like"
	OpToggleDislike      OperationType = "toggle_dislike"
	OpToggleKataLike     OperationType = "toggle_kata_like"
	OpToggleOhyoLike     OperationType = "toggle_ohyo_like"
	OpUpdateForumComment OperationType = "update_forum_comment"
	OpDeleteForumComment OperationType = "delete_forum_comment"
	OpToggleForumLike    OperationType = "toggle_forum_like"
	OpToggleForumFav     OperationType = "toggle_forum_favorite"
)

// KnownOperationTypes lists every valid operation type.
func KnownOperationTypes() []OperationType {
	return []OperationType{
		OpAddComment, OpAddForumComment, OpUpdateComment, OpDeleteComment,
		OpToggleLike, OpToggleDislike, OpToggleKataLike, OpToggleOhyoLike,
		OpUpdateForumComment, OpDeleteForumComment, OpToggleForumLike,
		OpToggleForumFav,
	}
}

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	for _, known := range KnownOperationTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// OperationStatus represents the lifecycle state of a queued operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusProcessing OperationStatus = "processing"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
)

// OfflineOperation is a pending offline-originated mutation. Operations are
// owned end-to-end by the operation queue: they are created on user action,
// drained by the orchestrator, and either removed on success or left failed
// for a later retry or manual conflict resolution.
type OfflineOperation struct {
	ID          string                 `db:"id" json:"id"`
	Type        OperationType          `db:"type" json:"type"`
	Status      OperationStatus        `db:"status" json:"status"`
	Data        map[string]interface{} `db:"data" json:"data"`
	UserID      string                 `db:"user_id" json:"user_id"`
	Error       string                 `db:"error" json:"error,omitempty"`
	CreatedAt   int64                  `db:"created_at" json:"created_at"`
	ProcessedAt *int64                 `db:"processed_at" json:"processed_at,omitempty"`

	// Seq is assigned by the queue store and fixes FIFO drain order.
	Seq int64 `db:"seq" json:"-"`
}

// TableName returns the table name for OfflineOperation.
func (OfflineOperation) TableName() string {
	return "offline_operations"
}

// EntityKey returns a stable key for the entity this operation touches.
// The drain path uses it to keep same-entity operations out of the same
// concurrent batch, so a create-then-edit pair replays in order.
func (op *OfflineOperation) EntityKey() string {
	if id, ok := op.Data["comment_id"].(string); ok && id != "" {
		return "comment:" + id
	}
	targetType, _ := op.Data["target_type"].(string)
	targetID, _ := op.Data["target_id"].(string)
	if targetID != "" {
		return fmt.Sprintf("%s:%s", targetType, targetID)
	}
	if id, ok := op.Data["post_id"].(string); ok && id != "" {
		return "forum_post:" + id
	}
	// No recognizable entity reference; the operation serializes with itself.
	return "op:" + op.ID
}

// IsToggle reports whether the operation is a boolean flip keyed by
// user+target. Toggles are conflict-free by construction and never route
// through version checking.
func (t OperationType) IsToggle() bool {
	switch t {
	case OpToggleLike, OpToggleDislike, OpToggleKataLike, OpToggleOhyoLike,
		OpToggleForumLike, OpToggleForumFav:
		return true
	}
	return false
}
