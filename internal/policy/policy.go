// Package policy gates sync traffic on user data preferences.
package policy

import (
	"context"

	"github.com/dojoverse/dojosync/internal/cache"
	"github.com/dojoverse/dojosync/internal/netstatus"
)

// Settings keys consulted by the default policy.
const (
	KeyWifiOnly       = "sync_wifi_only"
	KeyBackgroundSync = "background_sync_enabled"
)

// DataPolicy answers whether sync traffic may run right now.
type DataPolicy interface {
	// DataUsageAllowed reports whether sync may use the current connection.
	DataUsageAllowed(ctx context.Context) bool
	// BackgroundSyncEnabled reports whether unattended sync is permitted.
	BackgroundSyncEnabled(ctx context.Context) bool
}

// SettingsPolicy reads preferences from the local settings store. Missing
// keys default to permissive: sync on any connection, background sync on.
type SettingsPolicy struct {
	store   *cache.Store
	network netstatus.Checker
}

// NewSettingsPolicy creates a SettingsPolicy over the given store.
func NewSettingsPolicy(store *cache.Store, network netstatus.Checker) *SettingsPolicy {
	return &SettingsPolicy{store: store, network: network}
}

// DataUsageAllowed returns false only when the user restricted sync to wifi
// and the current connection is cellular.
func (p *SettingsPolicy) DataUsageAllowed(ctx context.Context) bool {
	value, err := p.store.Setting(ctx, KeyWifiOnly)
	if err != nil || value != "true" {
		return true
	}
	return p.network.ConnectionType() != netstatus.ConnectionCellular
}

// BackgroundSyncEnabled reports the stored preference, defaulting to true.
func (p *SettingsPolicy) BackgroundSyncEnabled(ctx context.Context) bool {
	value, err := p.store.Setting(ctx, KeyBackgroundSync)
	if err != nil {
		return true
	}
	return value != "false"
}

// StaticPolicy is a fixed-answer DataPolicy for tests and tooling.
type StaticPolicy struct {
	AllowData       bool
	AllowBackground bool
}

func (p StaticPolicy) DataUsageAllowed(ctx context.Context) bool { return p.AllowData }

func (p StaticPolicy) BackgroundSyncEnabled(ctx context.Context) bool { return p.AllowBackground }
