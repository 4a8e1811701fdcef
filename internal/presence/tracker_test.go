package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/remote-access-relay/backend/internal/model"
	"github.com/remote-access-relay/backend/internal/registry"
)

type fakeTransport struct {
	mu          sync.Mutex
	closed      bool
	closeReason string
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return model.ErrTransportClosed
	}
	return nil
}

func (t *fakeTransport) Close(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.closeReason = reason
	}
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTracker(t *testing.T) (*Tracker, *registry.Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reg := registry.NewRegistry()
	reg.SetClock(clock.Now)
	tracker := NewTracker(reg, Config{Clock: clock.Now})
	return tracker, reg, clock
}

func register(reg *registry.Registry, deviceID string) *fakeTransport {
	transport := &fakeTransport{}
	reg.RegisterAgent(registry.AgentInfo{
		DeviceID:     deviceID,
		DeviceName:   deviceID,
		Capabilities: model.CapSSH,
	}, transport)
	return transport
}

func TestTracker_ListOnline(t *testing.T) {
	tracker, reg, clock := setupTracker(t)

	register(reg, "pi-1")
	register(reg, "pi-2")

	if got := len(tracker.ListOnline()); got != 2 {
		t.Fatalf("expected 2 online agents, got %d", got)
	}

	// Move past the threshold, then refresh only pi-2.
	clock.Advance(StaleThreshold + time.Second)
	tracker.Heartbeat("pi-2")

	online := tracker.ListOnline()
	if len(online) != 1 || online[0].DeviceID != "pi-2" {
		t.Errorf("expected only pi-2 online, got %v", online)
	}
	if tracker.IsOnline("pi-1") {
		t.Errorf("stale device reported online")
	}
	if !tracker.IsOnline("pi-2") {
		t.Errorf("fresh device reported offline")
	}
}

// A heartbeat older than the threshold makes the device offline on the
// very next listing call, and the sweep removes it from the registry.
func TestTracker_SweepEvictsStale(t *testing.T) {
	tracker, reg, clock := setupTracker(t)

	stale := register(reg, "pi-1")
	register(reg, "pi-2")

	var evicted []string
	tracker.SetOnEvict(func(conn registry.AgentConnection) {
		evicted = append(evicted, conn.DeviceID)
	})

	clock.Advance(StaleThreshold + time.Second)
	tracker.Heartbeat("pi-2")

	swept := tracker.Sweep()

	if len(swept) != 1 || swept[0].DeviceID != "pi-1" {
		t.Fatalf("expected pi-1 swept, got %v", swept)
	}
	if stale.IsOpen() {
		t.Errorf("stale transport left open")
	}
	if stale.closeReason != model.ReasonStale {
		t.Errorf("unexpected close reason %q", stale.closeReason)
	}
	if _, ok := reg.LookupAgent("pi-1"); ok {
		t.Errorf("stale agent still registered after sweep")
	}
	if _, ok := reg.LookupAgent("pi-2"); !ok {
		t.Errorf("fresh agent evicted by sweep")
	}
	if len(evicted) != 1 || evicted[0] != "pi-1" {
		t.Errorf("eviction callback got %v", evicted)
	}
}

func TestTracker_HeartbeatUnknownDevice(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	if tracker.Heartbeat("ghost") {
		t.Errorf("heartbeat for unknown device reported success")
	}
}

func TestTracker_HeartbeatKeepsDeviceAlive(t *testing.T) {
	tracker, reg, clock := setupTracker(t)
	register(reg, "pi-1")

	// Heartbeats arriving more often than the threshold keep the
	// device online indefinitely.
	for i := 0; i < 5; i++ {
		clock.Advance(StaleThreshold / 2)
		if !tracker.Heartbeat("pi-1") {
			t.Fatalf("heartbeat rejected for live device")
		}
	}

	if len(tracker.Sweep()) != 0 {
		t.Errorf("sweep evicted a device with fresh heartbeats")
	}
	if !tracker.IsOnline("pi-1") {
		t.Errorf("device with fresh heartbeats reported offline")
	}
}

func TestTracker_SweepEmptyRegistry(t *testing.T) {
	tracker, _, _ := setupTracker(t)
	if got := tracker.Sweep(); len(got) != 0 {
		t.Errorf("sweep of empty registry evicted %v", got)
	}
}
