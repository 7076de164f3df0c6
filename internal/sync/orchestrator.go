// Package sync orchestrates multi-entity synchronization: full entity
// pulls into the local cache, offline queue drains, and the heavier
// comprehensive cache pass. The orchestrator is the only component that
// runs multi-step workflows; everything it calls is single-purpose.
//
// Public entry points never return an error. Sync runs on a timer with no
// caller to catch a failure, so every pass converts its own errors into a
// SyncResult and the caller observes failure only through that result.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dojoverse/dojosync/internal/backend"
	"github.com/dojoverse/dojosync/internal/cache"
	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/interaction"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/media"
	"github.com/dojoverse/dojosync/internal/models"
	"github.com/dojoverse/dojosync/internal/queue"
)

// Status is the orchestrator's pass state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// batchSize bounds concurrent in-flight queue writes per drain batch.
const batchSize = 5

// resultHistoryLimit caps the retained SyncResult history.
const resultHistoryLimit = 10

// SettingComprehensiveCache is the settings key flagging a completed
// comprehensive cache pass.
const SettingComprehensiveCache = "comprehensive_cache_completed"

// ProgressFunc receives processed/total after each record of an entity pass.
type ProgressFunc func(op models.SyncOperation, processed, total int)

// Engine is the orchestrator surface consumed by the scheduler and the
// status API.
type Engine interface {
	FullSync(ctx context.Context) []models.SyncResult
	DrainQueue(ctx context.Context) models.SyncResult
	ComprehensiveCache(ctx context.Context) models.SyncResult
	Status() Status
	Results() []models.SyncResult
	LastSync() *time.Time
	Pause()
	Resume()
	Paused() bool
}

// Orchestrator coordinates sync passes. Safe for concurrent use; at most
// one pass runs at a time and overlapping requests are no-ops.
type Orchestrator struct {
	queue        *queue.Queue
	store        *cache.Store
	backend      backend.Client
	interactions *interaction.Client
	media        media.Cache // nil disables media caching

	mu       sync.Mutex
	status   Status
	paused   bool
	userID   string
	lastSync *time.Time
	results  []models.SyncResult
	progress ProgressFunc
}

// NewOrchestrator creates an Orchestrator. mediaCache may be nil when the
// comprehensive cache pass is not needed.
func NewOrchestrator(q *queue.Queue, store *cache.Store, b backend.Client, client *interaction.Client, mediaCache media.Cache) *Orchestrator {
	return &Orchestrator{
		queue:        q,
		store:        store,
		backend:      b,
		interactions: client,
		media:        mediaCache,
		status:       StatusIdle,
	}
}

// SetUser sets the user whose liked/favorite flags enrich entity pulls.
func (o *Orchestrator) SetUser(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.userID = userID
}

// SetProgress installs a progress callback for entity passes.
func (o *Orchestrator) SetProgress(fn ProgressFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = fn
}

// Status returns the current pass state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused && o.status != StatusSyncing {
		return StatusPaused
	}
	return o.status
}

// Pause suspends background scheduling. An in-flight pass runs to
// completion; only future scheduled passes are skipped.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
}

// Resume lifts a pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
}

// Paused reports whether background scheduling is suspended.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// LastSync returns when the last successful pass finished.
func (o *Orchestrator) LastSync() *time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSync
}

// Results returns the retained pass history, most recent first.
func (o *Orchestrator) Results() []models.SyncResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.SyncResult, len(o.results))
	copy(out, o.results)
	return out
}

// SyncKatas pulls the full kata list into the local cache.
func (o *Orchestrator) SyncKatas(ctx context.Context) models.SyncResult {
	return o.runPass(models.SyncOpKatas, func() models.SyncResult { return o.syncKatas(ctx) })
}

// SyncOhyo pulls the full ohyo list into the local cache.
func (o *Orchestrator) SyncOhyo(ctx context.Context) models.SyncResult {
	return o.runPass(models.SyncOpOhyo, func() models.SyncResult { return o.syncOhyo(ctx) })
}

// SyncForumPosts pulls the full forum post list into the local cache.
func (o *Orchestrator) SyncForumPosts(ctx context.Context) models.SyncResult {
	return o.runPass(models.SyncOpForumPosts, func() models.SyncResult { return o.syncForumPosts(ctx) })
}

// DrainQueue replays pending offline operations against the backend.
func (o *Orchestrator) DrainQueue(ctx context.Context) models.SyncResult {
	return o.runPass(models.SyncOpQueueDrain, func() models.SyncResult { return o.drainQueue(ctx) })
}

// FullSync runs all three entity syncs and then drains the queue. Entity
// failures are isolated: one failing type does not abort the others. The
// per-pass results are returned in execution order.
func (o *Orchestrator) FullSync(ctx context.Context) []models.SyncResult {
	if !o.begin() {
		return []models.SyncResult{o.inProgressResult(models.SyncOpFullSync)}
	}

	results := []models.SyncResult{
		o.syncKatas(ctx),
		o.syncOhyo(ctx),
		o.syncForumPosts(ctx),
		o.drainQueue(ctx),
	}

	allOK := true
	for _, r := range results {
		o.record(r)
		if !r.Success {
			allOK = false
		}
	}
	o.end(allOK)
	return results
}

// ComprehensiveCache is the heavier first-run variant of FullSync: after
// the entity pulls it fetches per-post detail and caches every referenced
// media URL to disk. The completed flag is persisted only when zero entity
// types failed, so a partial run retries wholesale next time.
func (o *Orchestrator) ComprehensiveCache(ctx context.Context) models.SyncResult {
	if !o.begin() {
		return o.inProgressResult(models.SyncOpComprehensiveCache)
	}

	result := models.SyncResult{
		Operation: models.SyncOpComprehensiveCache,
		Timestamp: time.Now(),
	}

	entity := []models.SyncResult{
		o.syncKatas(ctx),
		o.syncOhyo(ctx),
		o.syncForumPosts(ctx),
	}
	entityFailures := 0
	for _, r := range entity {
		o.record(r)
		result.ItemsProcessed += r.ItemsProcessed
		if !r.Success {
			entityFailures++
		}
	}

	result.ItemsFailed += o.cacheAllMedia(ctx)
	result.ItemsFailed += o.cacheForumDetails(ctx)

	if entityFailures == 0 {
		if err := o.store.SetSetting(ctx, SettingComprehensiveCache, "true"); err != nil {
			logging.Error("Failed to persist comprehensive cache flag", err, nil)
		}
		result.Success = true
	} else {
		result.Error = fmt.Sprintf("%d entity type(s) failed", entityFailures)
	}

	o.record(result)
	o.end(result.Success)
	return result
}

// runPass wraps a single-operation pass with the reentrancy guard and
// result bookkeeping.
func (o *Orchestrator) runPass(op models.SyncOperation, pass func() models.SyncResult) models.SyncResult {
	if !o.begin() {
		return o.inProgressResult(op)
	}
	result := pass()
	o.record(result)
	o.end(result.Success)
	return result
}

// begin transitions to syncing unless a pass is already running.
func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusSyncing {
		return false
	}
	o.status = StatusSyncing
	return true
}

func (o *Orchestrator) end(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		o.status = StatusCompleted
		now := time.Now()
		o.lastSync = &now
	} else {
		o.status = StatusFailed
	}
}

func (o *Orchestrator) record(r models.SyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append([]models.SyncResult{r}, o.results...)
	if len(o.results) > resultHistoryLimit {
		o.results = o.results[:resultHistoryLimit]
	}
}

func (o *Orchestrator) inProgressResult(op models.SyncOperation) models.SyncResult {
	return models.SyncResult{
		Operation: op,
		Error:     errors.New(errors.ErrSyncInProgress, "a sync pass is already running").Error(),
		Timestamp: time.Now(),
	}
}

func (o *Orchestrator) reportProgress(op models.SyncOperation, processed, total int) {
	o.mu.Lock()
	fn := o.progress
	o.mu.Unlock()
	if fn != nil {
		fn(op, processed, total)
	}
}

func (o *Orchestrator) currentUser() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userID
}

func failedResult(op models.SyncOperation, err error) models.SyncResult {
	logging.ErrorWithCode("Sync pass failed", string(errors.CodeOf(err)), err,
		map[string]interface{}{"operation": string(op)})
	return models.SyncResult{
		Operation: op,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}
