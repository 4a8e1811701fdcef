// Package session manages the records for relayed sessions, indexed for
// O(1) lookup by session id, by owning browser, and by owning device.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remote-access-relay/backend/internal/model"
	"github.com/remote-access-relay/backend/internal/registry"
)

// Session identifies one relayed stream between a browser and an agent.
// The transport references are captured at creation time; a transport
// dropping later does not invalidate the record by itself; cleanup is
// the disconnect handler's responsibility.
type Session struct {
	ID               string
	Kind             model.SessionKind
	DeviceID         string
	BrowserID        string
	AgentTransport   registry.Transport
	BrowserTransport registry.Transport
	Status           model.SessionStatus
	CreatedAt        time.Time
	TerminalSize     model.TerminalSize
}

// Manager owns the session records. The three indexes always agree on
// membership: every mutation updates all of them under one lock.
type Manager struct {
	registry *registry.Registry

	mu        sync.RWMutex
	byID      map[string]*Session
	byBrowser map[string]map[string]*Session
	byDevice  map[string]map[string]*Session
}

// NewManager creates a session manager over the given connection registry.
func NewManager(reg *registry.Registry) *Manager {
	return &Manager{
		registry:  reg,
		byID:      make(map[string]*Session),
		byBrowser: make(map[string]map[string]*Session),
		byDevice:  make(map[string]map[string]*Session),
	}
}

// Create creates a new session of the given kind between browserID and
// deviceID. When sessionID is empty a fresh random id is generated; when
// supplied it is trusted only after a duplicate check. Both endpoints
// must be registered at creation time.
func (m *Manager) Create(kind model.SessionKind, deviceID, browserID, sessionID string) (*Session, error) {
	browser, ok := m.registry.LookupBrowser(browserID)
	if !ok {
		return nil, model.ErrNoBrowserTransport
	}
	agent, ok := m.registry.LookupAgent(deviceID)
	if !ok {
		return nil, model.ErrNoAgentTransport
	}
	if !agent.Capabilities.Has(kind.Capability()) {
		return nil, model.ErrUnsupportedKind
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	sess := &Session{
		ID:               sessionID,
		Kind:             kind,
		DeviceID:         deviceID,
		BrowserID:        browserID,
		AgentTransport:   agent.Transport,
		BrowserTransport: browser.Transport,
		Status:           model.SessionStatusConnecting,
		CreatedAt:        time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[sessionID]; exists {
		return nil, model.ErrDuplicateSession
	}
	m.byID[sessionID] = sess
	if m.byBrowser[browserID] == nil {
		m.byBrowser[browserID] = make(map[string]*Session)
	}
	m.byBrowser[browserID][sessionID] = sess
	if m.byDevice[deviceID] == nil {
		m.byDevice[deviceID] = make(map[string]*Session)
	}
	m.byDevice[deviceID][sessionID] = sess
	return sess, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.byID[sessionID]
	return sess, ok
}

// ByBrowser returns all sessions owned by the browser connection.
func (m *Manager) ByBrowser(browserID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byBrowser[browserID]))
	for _, sess := range m.byBrowser[browserID] {
		out = append(out, sess)
	}
	return out
}

// ByDevice returns all sessions bound to the device.
func (m *Manager) ByDevice(deviceID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byDevice[deviceID]))
	for _, sess := range m.byDevice[deviceID] {
		out = append(out, sess)
	}
	return out
}

// Activate marks a connecting session active.
func (m *Manager) Activate(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[sessionID]
	if !ok {
		return false
	}
	sess.Status = model.SessionStatusActive
	return true
}

// Resize updates the terminal size of a session.
func (m *Manager) Resize(sessionID string, cols, rows int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[sessionID]
	if !ok {
		return false
	}
	sess.TerminalSize = model.TerminalSize{Cols: cols, Rows: rows}
	return true
}

// Close removes the session from all three indexes and marks it closed.
// Closing a non-existent session is a no-op, not an error. The removal
// is complete before Close returns, so any concurrent handler calling
// Get afterward observes the session absent.
func (m *Manager) Close(sessionID, reason string) (*Session, bool) {
	m.mu.Lock()
	sess, ok := m.byID[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.byID, sessionID)
	if owned := m.byBrowser[sess.BrowserID]; owned != nil {
		delete(owned, sessionID)
		if len(owned) == 0 {
			delete(m.byBrowser, sess.BrowserID)
		}
	}
	if bound := m.byDevice[sess.DeviceID]; bound != nil {
		delete(bound, sessionID)
		if len(bound) == 0 {
			delete(m.byDevice, sess.DeviceID)
		}
	}
	sess.Status = model.SessionStatusClosed
	m.mu.Unlock()

	log.Printf("Session %s closed: %s", sessionID, reason)
	return sess, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
