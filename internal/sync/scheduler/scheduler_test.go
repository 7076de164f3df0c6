package scheduler

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/dojoverse/dojosync/internal/models"
	"github.com/dojoverse/dojosync/internal/netstatus"
	"github.com/dojoverse/dojosync/internal/policy"
	syncpkg "github.com/dojoverse/dojosync/internal/sync"
)

// fakeEngine counts FullSync invocations.
type fakeEngine struct {
	mu     gosync.Mutex
	syncs  int
	paused bool
}

func (f *fakeEngine) FullSync(ctx context.Context) []models.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return []models.SyncResult{{Operation: models.SyncOpQueueDrain, Success: true}}
}

func (f *fakeEngine) DrainQueue(ctx context.Context) models.SyncResult {
	return models.SyncResult{Operation: models.SyncOpQueueDrain, Success: true}
}

func (f *fakeEngine) ComprehensiveCache(ctx context.Context) models.SyncResult {
	return models.SyncResult{Operation: models.SyncOpComprehensiveCache, Success: true}
}

func (f *fakeEngine) Status() syncpkg.Status { return syncpkg.StatusIdle }

func (f *fakeEngine) Results() []models.SyncResult { return nil }

func (f *fakeEngine) LastSync() *time.Time { return nil }

func (f *fakeEngine) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeEngine) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *fakeEngine) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeEngine) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func newTestScheduler(engine *fakeEngine, network *netstatus.Static, allow bool) *Scheduler {
	return New(engine, network, policy.StaticPolicy{
		AllowData:       allow,
		AllowBackground: allow,
	}, &Config{
		SyncInterval: 20 * time.Millisecond,
		PassTimeout:  time.Second,
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// TestScheduler_runsWhenOnline verifies ticks trigger passes once the
// network and policy permit.
func TestScheduler_runsWhenOnline(t *testing.T) {
	engine := &fakeEngine{}
	network := netstatus.NewStatic()
	network.Set(true, netstatus.ConnectionWifi)

	s := newTestScheduler(engine, network, true)
	s.Start(context.Background())
	defer s.Stop()

	if !waitFor(t, time.Second, func() bool { return engine.syncCount() >= 2 }) {
		t.Errorf("syncs = %d, want >= 2", engine.syncCount())
	}
}

// TestScheduler_skipsWhenOffline verifies no pass runs without a network.
func TestScheduler_skipsWhenOffline(t *testing.T) {
	engine := &fakeEngine{}
	network := netstatus.NewStatic() // offline

	s := newTestScheduler(engine, network, true)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if engine.syncCount() != 0 {
		t.Errorf("syncs = %d while offline, want 0", engine.syncCount())
	}

	// Reconnect; passes resume on the next ticks.
	network.Set(true, netstatus.ConnectionWifi)
	if !waitFor(t, time.Second, func() bool { return engine.syncCount() >= 1 }) {
		t.Error("no sync after reconnect")
	}
}

// TestScheduler_respectsPolicy verifies a restrictive policy blocks passes.
func TestScheduler_respectsPolicy(t *testing.T) {
	engine := &fakeEngine{}
	network := netstatus.NewStatic()
	network.Set(true, netstatus.ConnectionCellular)

	s := newTestScheduler(engine, network, false)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if engine.syncCount() != 0 {
		t.Errorf("syncs = %d with restrictive policy, want 0", engine.syncCount())
	}
}

// TestScheduler_respectsPause verifies a paused engine is left alone.
func TestScheduler_respectsPause(t *testing.T) {
	engine := &fakeEngine{paused: true}
	network := netstatus.NewStatic()
	network.Set(true, netstatus.ConnectionWifi)

	s := newTestScheduler(engine, network, true)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if engine.syncCount() != 0 {
		t.Errorf("syncs = %d while paused, want 0", engine.syncCount())
	}
}

// TestScheduler_stopIsIdempotent verifies lifecycle safety.
func TestScheduler_stopIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	network := netstatus.NewStatic()

	s := newTestScheduler(engine, network, true)
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}

	// Restart works.
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("IsRunning = false after restart")
	}
	s.Stop()
}

// TestScheduler_triggerSync verifies manual triggering honors the gates.
func TestScheduler_triggerSync(t *testing.T) {
	engine := &fakeEngine{}
	network := netstatus.NewStatic()

	s := New(engine, network, policy.StaticPolicy{
		AllowData:       true,
		AllowBackground: true,
	}, &Config{
		// Interval long enough that only the trigger can start a pass.
		SyncInterval: time.Hour,
		PassTimeout:  time.Second,
	})
	s.Start(context.Background())
	defer s.Stop()

	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync = true while offline")
	}

	network.Set(true, netstatus.ConnectionWifi)
	if !s.TriggerSync(context.Background()) {
		t.Fatal("TriggerSync = false while online")
	}
	if !waitFor(t, time.Second, func() bool { return engine.syncCount() == 1 }) {
		t.Errorf("syncs = %d after trigger, want 1", engine.syncCount())
	}
}

// TestScheduler_triggerSync_notStarted verifies a stopped scheduler refuses
// manual triggers.
func TestScheduler_triggerSync_notStarted(t *testing.T) {
	engine := &fakeEngine{}
	network := netstatus.NewStatic()
	network.Set(true, netstatus.ConnectionWifi)

	s := newTestScheduler(engine, network, true)

	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync = true on a scheduler that was never started")
	}
	time.Sleep(50 * time.Millisecond)
	if engine.syncCount() != 0 {
		t.Errorf("syncs = %d without Start, want 0", engine.syncCount())
	}
}

// blockingEngine holds FullSync open until released so a pass can be
// observed mid-flight.
type blockingEngine struct {
	fakeEngine
	started chan struct{}
	release chan struct{}
}

func (b *blockingEngine) FullSync(ctx context.Context) []models.SyncResult {
	close(b.started)
	<-b.release
	return b.fakeEngine.FullSync(ctx)
}

// TestScheduler_stopWaitsForTriggeredPass verifies Stop blocks until a
// manually triggered pass finishes.
func TestScheduler_stopWaitsForTriggeredPass(t *testing.T) {
	engine := &blockingEngine{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	network := netstatus.NewStatic()
	network.Set(true, netstatus.ConnectionWifi)

	s := New(engine, network, policy.StaticPolicy{
		AllowData:       true,
		AllowBackground: true,
	}, &Config{
		SyncInterval: time.Hour,
		PassTimeout:  time.Second,
	})
	s.Start(context.Background())

	if !s.TriggerSync(context.Background()) {
		t.Fatal("TriggerSync = false on a running scheduler")
	}
	<-engine.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the triggered pass was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(engine.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}
	if engine.syncCount() != 1 {
		t.Errorf("syncs = %d, want 1", engine.syncCount())
	}
}
