// Package presence derives online/offline device status from heartbeat
// timestamps and evicts stale agent connections on a periodic sweep.
package presence

import (
	"log"
	"sync"
	"time"

	"github.com/remote-access-relay/backend/internal/model"
	"github.com/remote-access-relay/backend/internal/registry"
)

const (
	// StaleThreshold is the heartbeat age beyond which a device is offline.
	StaleThreshold = 90 * time.Second

	// SweepInterval is how often stale connections are evicted.
	SweepInterval = 30 * time.Second
)

// Config holds configuration for the presence tracker.
type Config struct {
	StaleThreshold time.Duration
	SweepInterval  time.Duration
	Clock          func() time.Time
}

// Tracker watches agent heartbeats on top of the connection registry.
// Status is never cached; every query recomputes it from the heartbeat
// timestamps at the moment of the call.
type Tracker struct {
	registry       *registry.Registry
	staleThreshold time.Duration
	sweepInterval  time.Duration
	now            func() time.Time

	mu      sync.Mutex
	onEvict func(conn registry.AgentConnection)
	done    chan struct{}
	stopped sync.Once
}

// NewTracker creates a presence tracker over the given registry.
func NewTracker(reg *registry.Registry, config Config) *Tracker {
	if config.StaleThreshold == 0 {
		config.StaleThreshold = StaleThreshold
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = SweepInterval
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Tracker{
		registry:       reg,
		staleThreshold: config.StaleThreshold,
		sweepInterval:  config.SweepInterval,
		now:            config.Clock,
		done:           make(chan struct{}),
	}
}

// SetOnEvict sets the callback invoked after a stale agent has been
// removed from the registry and its transport closed.
func (t *Tracker) SetOnEvict(callback func(conn registry.AgentConnection)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvict = callback
}

// Start runs the periodic sweep until Stop is called.
func (t *Tracker) Start() {
	go func() {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-t.done:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (t *Tracker) Stop() {
	t.stopped.Do(func() {
		close(t.done)
	})
}

// Heartbeat records a heartbeat for the device. Returns false if the
// device is unknown; the caller logs and ignores that case rather than
// surfacing an error to the sender.
func (t *Tracker) Heartbeat(deviceID string) bool {
	return t.registry.TouchAgent(deviceID)
}

// IsStale reports whether the connection's heartbeat has exceeded the
// staleness threshold.
func (t *Tracker) IsStale(conn registry.AgentConnection) bool {
	return t.now().Sub(conn.LastHeartbeat) > t.staleThreshold
}

// ListOnline returns the non-stale agent connections at the moment of
// the call.
func (t *Tracker) ListOnline() []registry.AgentConnection {
	agents := t.registry.Agents()
	online := agents[:0]
	for _, conn := range agents {
		if !t.IsStale(conn) {
			online = append(online, conn)
		}
	}
	return online
}

// IsOnline reports whether a non-stale connection exists for the device.
func (t *Tracker) IsOnline(deviceID string) bool {
	conn, ok := t.registry.LookupAgent(deviceID)
	return ok && !t.IsStale(conn)
}

// Sweep evicts every agent whose heartbeat exceeds the staleness
// threshold: the transport is closed with a stale reason and the entry
// removed from the registry. Returns the evicted connections.
func (t *Tracker) Sweep() []registry.AgentConnection {
	var evicted []registry.AgentConnection
	for _, conn := range t.registry.Agents() {
		if !t.IsStale(conn) {
			continue
		}
		if !t.registry.RemoveAgent(conn.DeviceID, conn.Transport) {
			// Re-registered between snapshot and removal.
			continue
		}
		log.Printf("Evicting stale agent %s (last heartbeat %s ago)",
			conn.DeviceID, t.now().Sub(conn.LastHeartbeat).Round(time.Second))
		conn.Transport.Close(model.ReasonStale)
		evicted = append(evicted, conn)
	}
	if len(evicted) > 0 {
		t.mu.Lock()
		callback := t.onEvict
		t.mu.Unlock()
		if callback != nil {
			for _, conn := range evicted {
				callback(conn)
			}
		}
	}
	return evicted
}
