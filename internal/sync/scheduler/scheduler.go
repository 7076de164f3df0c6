// Package scheduler runs background sync on a fixed interval, gated on
// network reachability and the user's data policy.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/netstatus"
	"github.com/dojoverse/dojosync/internal/policy"
	syncpkg "github.com/dojoverse/dojosync/internal/sync"
)

// Config holds scheduler configuration.
type Config struct {
	// SyncInterval is how often a background pass is attempted.
	SyncInterval time.Duration
	// PassTimeout bounds one background pass.
	PassTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 15 * time.Minute,
		PassTimeout:  5 * time.Minute,
	}
}

// Scheduler drives periodic background sync. A tick is skipped unless the
// network is connected, the data policy allows traffic on the current
// connection, background sync is enabled, and the engine is not paused.
// An in-flight pass always runs to completion; Stop only prevents future
// passes.
type Scheduler struct {
	engine  syncpkg.Engine
	network netstatus.Checker
	policy  policy.DataPolicy

	syncInterval time.Duration
	passTimeout  time.Duration

	mu        sync.RWMutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a Scheduler. A nil config uses defaults.
func New(engine syncpkg.Engine, network netstatus.Checker, dataPolicy policy.DataPolicy, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:       engine,
		network:      network,
		policy:       dataPolicy,
		syncInterval: config.SyncInterval,
		passTimeout:  config.PassTimeout,
	}
}

// Start launches the background loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_minutes": s.syncInterval.Minutes()})
}

// Stop halts scheduling and waits for the loop to exit. An in-flight pass
// finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info("Background sync scheduler stopped", nil)
}

// IsRunning reports whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// TriggerSync requests an immediate pass, bypassing the interval but not
// the policy gates. Returns false when the scheduler is stopped or the pass
// was skipped. A triggered pass counts toward Stop's wait like a scheduled
// one.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.shouldSync(ctx) {
		return false
	}

	// The WaitGroup add must happen while isRunning still holds the lock's
	// guarantee, or Stop could start waiting between the check and the add.
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runPass(ctx)
	}()
	return true
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.shouldSync(ctx) {
				continue
			}
			s.runPass(ctx)
		}
	}
}

// shouldSync evaluates every gate for a background pass.
func (s *Scheduler) shouldSync(ctx context.Context) bool {
	if s.engine.Paused() {
		logging.Debug("Skipping background sync, engine paused", nil)
		return false
	}
	if s.engine.Status() == syncpkg.StatusSyncing {
		logging.Debug("Skipping background sync, pass already running", nil)
		return false
	}
	if !s.network.IsConnected() {
		logging.Debug("Skipping background sync, offline", nil)
		return false
	}
	if !s.policy.DataUsageAllowed(ctx) {
		logging.Debug("Skipping background sync, data usage restricted", nil)
		return false
	}
	if !s.policy.BackgroundSyncEnabled(ctx) {
		logging.Debug("Skipping background sync, disabled by user", nil)
		return false
	}
	return true
}

func (s *Scheduler) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	results := s.engine.FullSync(passCtx)

	failed := 0
	processed := 0
	for _, r := range results {
		processed += r.ItemsProcessed
		if !r.Success {
			failed++
		}
	}

	logging.Info("Background sync pass finished", map[string]interface{}{
		"passes_failed":   failed,
		"items_processed": processed,
	})
}
