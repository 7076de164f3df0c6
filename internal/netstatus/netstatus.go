// Package netstatus exposes network reachability to the sync engine.
package netstatus

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ConnectionType classifies the active connection.
type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionNone     ConnectionType = "none"
	ConnectionUnknown  ConnectionType = "unknown"
)

// Checker reports whether the device is online and over what link. The
// platform layer usually owns the real answer; the engine only reads it.
type Checker interface {
	IsConnected() bool
	ConnectionType() ConnectionType
}

// Static is a Checker with externally set state. The embedding application
// pushes platform connectivity events into it.
type Static struct {
	mu        sync.RWMutex
	connected bool
	connType  ConnectionType
}

// NewStatic creates a Static checker, initially offline.
func NewStatic() *Static {
	return &Static{connType: ConnectionNone}
}

// Set updates the connectivity state.
func (s *Static) Set(connected bool, connType ConnectionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.connType = connType
}

// IsConnected reports the last pushed state.
func (s *Static) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ConnectionType reports the last pushed connection type.
func (s *Static) ConnectionType() ConnectionType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return ConnectionNone
	}
	return s.connType
}

// Probe is a Checker that verifies reachability of a known endpoint,
// caching the answer briefly so hot paths do not spam the network.
type Probe struct {
	url      string
	client   *http.Client
	interval time.Duration

	mu        sync.Mutex
	lastCheck time.Time
	lastOK    bool
}

// NewProbe creates a Probe against url, re-checking at most once per
// interval.
func NewProbe(url string, interval time.Duration) *Probe {
	return &Probe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// IsConnected reports whether the probe endpoint answered recently.
func (p *Probe) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastCheck) < p.interval {
		return p.lastOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.lastOK = false
	} else {
		resp, err := p.client.Do(req)
		p.lastOK = err == nil
		if resp != nil {
			resp.Body.Close()
		}
	}
	p.lastCheck = time.Now()
	return p.lastOK
}

// ConnectionType returns unknown: an HTTP probe cannot tell wifi from
// cellular. Platform integrations should prefer Static.
func (p *Probe) ConnectionType() ConnectionType {
	if !p.IsConnected() {
		return ConnectionNone
	}
	return ConnectionUnknown
}
