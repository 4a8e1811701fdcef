// Package registry tracks the live agent and browser connections known to
// the relay. It is the only component holding actual transport handles.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remote-access-relay/backend/internal/model"
)

// Transport is the minimal surface the relay needs from a connection.
// Send and Close must not block; implementations queue, drop, or defer
// socket work to their own pumps. Close may be called more than once and
// must not call back into the registry.
type Transport interface {
	Send(data []byte) error
	Close(reason string)
	IsOpen() bool
}

// AgentInfo carries the registration metadata for an agent.
type AgentInfo struct {
	DeviceID     string
	DeviceName   string
	IPAddress    string
	Capabilities model.Capabilities
}

// AgentConnection is one live agent transport together with its metadata.
// LastHeartbeat is updated only by heartbeat messages, via TouchAgent.
type AgentConnection struct {
	AgentInfo
	Transport     Transport
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// BrowserConnection is one live browser transport.
type BrowserConnection struct {
	ID          string
	Transport   Transport
	ConnectedAt time.Time
}

// Registry holds the live connections. All mutations are single-step
// operations under one mutex so a concurrent sweep never observes a
// half-updated registry.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*AgentConnection
	browsers map[string]*BrowserConnection
	now      func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:   make(map[string]*AgentConnection),
		browsers: make(map[string]*BrowserConnection),
		now:      time.Now,
	}
}

// RegisterAgent inserts or replaces the connection for info.DeviceID and
// returns the transport it displaced, if any. At most one transport is
// ever current for a device id; the prior one is closed before the new
// one becomes authoritative.
func (r *Registry) RegisterAgent(info AgentInfo, t Transport) (replaced Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.agents[info.DeviceID]; ok {
		replaced = prev.Transport
		// The close signal goes out before the replacement is inserted.
		// Transport.Close must not block or re-enter the registry.
		replaced.Close(model.ReasonReplaced)
	}
	now := r.now()
	r.agents[info.DeviceID] = &AgentConnection{
		AgentInfo:     info,
		Transport:     t,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	return replaced
}

// RegisterBrowser inserts a browser connection and returns its generated id.
func (r *Registry) RegisterBrowser(t Transport) BrowserConnection {
	conn := BrowserConnection{
		ID:          uuid.New().String(),
		Transport:   t,
		ConnectedAt: r.now(),
	}
	r.mu.Lock()
	r.browsers[conn.ID] = &conn
	r.mu.Unlock()
	return conn
}

// LookupAgent returns a copy of the agent connection for the device id.
func (r *Registry) LookupAgent(deviceID string) (AgentConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.agents[deviceID]
	if !ok {
		return AgentConnection{}, false
	}
	return *conn, true
}

// LookupBrowser returns a copy of the browser connection for the id.
func (r *Registry) LookupBrowser(id string) (BrowserConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.browsers[id]
	if !ok {
		return BrowserConnection{}, false
	}
	return *conn, true
}

// RemoveAgent removes the agent entry for deviceID, but only while t is
// still the current transport. The identity check keeps a late disconnect
// of a replaced transport from evicting its successor.
func (r *Registry) RemoveAgent(deviceID string, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.agents[deviceID]
	if !ok || (t != nil && conn.Transport != t) {
		return false
	}
	delete(r.agents, deviceID)
	return true
}

// RemoveBrowser removes the browser entry for the id.
func (r *Registry) RemoveBrowser(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.browsers[id]; !ok {
		return false
	}
	delete(r.browsers, id)
	return true
}

// TouchAgent updates the heartbeat timestamp for the device.
// Returns false if the device is not registered.
func (r *Registry) TouchAgent(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.agents[deviceID]
	if !ok {
		return false
	}
	conn.LastHeartbeat = r.now()
	return true
}

// Agents returns a snapshot copy of all agent connections.
func (r *Registry) Agents() []AgentConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentConnection, 0, len(r.agents))
	for _, conn := range r.agents {
		out = append(out, *conn)
	}
	return out
}

// Browsers returns a snapshot copy of all browser connections.
func (r *Registry) Browsers() []BrowserConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BrowserConnection, 0, len(r.browsers))
	for _, conn := range r.browsers {
		out = append(out, *conn)
	}
	return out
}

// AgentCount returns the number of live agent connections.
func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// BrowserCount returns the number of live browser connections.
func (r *Registry) BrowserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.browsers)
}

// SetClock overrides the registry clock. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
