package models

import "time"

// SyncOperation identifies which orchestrated pass a SyncResult describes.
type SyncOperation string

const (
	SyncOpKatas              SyncOperation = "katas"
	SyncOpOhyo               SyncOperation = "ohyo"
	SyncOpForumPosts         SyncOperation = "forum_posts"
	SyncOpQueueDrain         SyncOperation = "queue_drain"
	SyncOpFullSync           SyncOperation = "full_sync"
	SyncOpComprehensiveCache SyncOperation = "comprehensive_cache"
)

// SyncResult is the outcome of one orchestrated sync pass. Results are the
// only failure channel out of the orchestrator's public entry points; they
// are retained most-recent-first in a bounded history for observability.
type SyncResult struct {
	Operation      SyncOperation `json:"operation"`
	Success        bool          `json:"success"`
	ItemsProcessed int           `json:"items_processed"`
	ItemsFailed    int           `json:"items_failed"`
	Error          string        `json:"error,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}
