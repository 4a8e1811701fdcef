// Package relay routes validated messages between registered browser and
// agent endpoints and performs cascading cleanup on disconnect.
package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/remote-access-relay/backend/internal/model"
	"github.com/remote-access-relay/backend/internal/presence"
	"github.com/remote-access-relay/backend/internal/protocol"
	"github.com/remote-access-relay/backend/internal/registry"
	"github.com/remote-access-relay/backend/internal/repository"
	"github.com/remote-access-relay/backend/internal/session"
)

// Relay owns the message dispatch between transports. All process-wide
// relay state lives in the components it holds; there are no ambient
// singletons.
type Relay struct {
	registry *registry.Registry
	sessions *session.Manager
	presence *presence.Tracker
	devices  *repository.DeviceRepository
	proxies  map[model.SessionKind]*proxy
}

// New creates a relay over the given components and hooks the presence
// tracker's eviction callback so staleness is treated identically to an
// abrupt disconnect.
func New(reg *registry.Registry, sessions *session.Manager, tracker *presence.Tracker, devices *repository.DeviceRepository) *Relay {
	r := &Relay{
		registry: reg,
		sessions: sessions,
		presence: tracker,
		devices:  devices,
	}
	r.proxies = map[model.SessionKind]*proxy{
		model.SessionKindSSH: newProxy(model.SessionKindSSH, sessions),
		model.SessionKindRDP: newProxy(model.SessionKindRDP, sessions),
	}
	tracker.SetOnEvict(r.handleAgentEvicted)
	return r
}

// AgentLink tracks one transport that connected as an agent, from accept
// to disconnect. DeviceID stays empty until a registration succeeds.
type AgentLink struct {
	Transport  registry.Transport
	RemoteAddr string

	mu       sync.Mutex
	deviceID string
}

// DeviceID returns the registered device id, or "" before registration.
func (l *AgentLink) DeviceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deviceID
}

func (l *AgentLink) setDeviceID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deviceID = id
}

// AttachAgent accepts a transport that classified itself as an agent.
// Nothing is registered until an agent:register message arrives.
func (r *Relay) AttachAgent(t registry.Transport, remoteAddr string) *AgentLink {
	return &AgentLink{Transport: t, RemoteAddr: remoteAddr}
}

// AttachBrowser registers a browser transport and returns its id.
func (r *Relay) AttachBrowser(t registry.Transport) string {
	conn := r.registry.RegisterBrowser(t)
	log.Printf("Browser connected: %s (total %d)", conn.ID, r.registry.BrowserCount())
	return conn.ID
}

// HandleAgentMessage dispatches one raw inbound message from an agent
// transport. Structurally invalid input earns a typed error reply and is
// dropped; unrecognized but well-formed types are silently ignored.
func (r *Relay) HandleAgentMessage(link *AgentLink, data []byte) {
	env, fieldErr := protocol.DecodeEnvelope(data)
	if fieldErr != "" {
		link.Transport.Send(protocol.ErrorMessage("INVALID_MESSAGE", fieldErr))
		return
	}
	if !protocol.KnownType(protocol.RoleAgent, env.Type) {
		return
	}

	switch env.Type {
	case protocol.TypeAgentRegister:
		r.handleRegister(link, env)
	case protocol.TypeAgentHeartbeat:
		r.handleHeartbeat(link, env)
	default:
		kind, op, ok := protocol.SplitSessionType(env.Type)
		if !ok {
			return
		}
		r.proxies[kind].handleAgentMessage(op, env, data, link.Transport)
	}
}

// HandleBrowserMessage dispatches one raw inbound message from a browser
// transport.
func (r *Relay) HandleBrowserMessage(browserID string, data []byte) {
	browser, ok := r.registry.LookupBrowser(browserID)
	if !ok {
		// Raced with disconnect; nothing to reply to.
		return
	}

	env, fieldErr := protocol.DecodeEnvelope(data)
	if fieldErr != "" {
		browser.Transport.Send(protocol.ErrorMessage("INVALID_MESSAGE", fieldErr))
		return
	}
	if !protocol.KnownType(protocol.RoleBrowser, env.Type) {
		return
	}

	switch env.Type {
	case protocol.TypeDevicesListRequest:
		r.sendDeviceList(browser.Transport)
	default:
		kind, op, ok := protocol.SplitSessionType(env.Type)
		if !ok {
			return
		}
		r.proxies[kind].handleBrowserMessage(op, env, data, browserID, browser.Transport)
	}
}

// HandleAgentDisconnect performs cascading cleanup when an agent
// transport drops, voluntarily or otherwise. Sessions still bound to the
// dropped transport are closed and their browsers notified. The registry
// entry is removed only if this transport is still the current one, so a
// replaced connection's late disconnect cannot evict its successor.
func (r *Relay) HandleAgentDisconnect(link *AgentLink) {
	deviceID := link.DeviceID()
	if deviceID == "" {
		return
	}

	removed := r.registry.RemoveAgent(deviceID, link.Transport)
	r.closeDeviceSessions(deviceID, link.Transport, model.ReasonAgentDisconnected)

	if removed {
		log.Printf("Agent disconnected: %s", deviceID)
		r.touchLastSeen(deviceID)
		r.broadcastDeviceList()
	}
}

// HandleBrowserDisconnect performs cascading cleanup when a browser
// transport drops: every session owned by the browser is closed and the
// corresponding agent notified.
func (r *Relay) HandleBrowserDisconnect(browserID string) {
	if !r.registry.RemoveBrowser(browserID) {
		return
	}
	log.Printf("Browser disconnected: %s", browserID)

	for _, sess := range r.sessions.ByBrowser(browserID) {
		r.closeAndNotify(sess, model.ReasonBrowserDisconnected, sess.AgentTransport)
	}
}

// handleAgentEvicted is called by the presence sweep after a stale agent
// has been removed from the registry and its transport closed. Staleness
// cascades exactly like an abrupt disconnect.
func (r *Relay) handleAgentEvicted(conn registry.AgentConnection) {
	r.closeDeviceSessions(conn.DeviceID, conn.Transport, model.ReasonAgentDisconnected)
	r.touchLastSeen(conn.DeviceID)
	r.broadcastDeviceList()
}

func (r *Relay) handleRegister(link *AgentLink, env protocol.Envelope) {
	payload, fieldErr := protocol.ValidateRegister(env.Payload)
	if fieldErr != "" {
		link.Transport.Send(protocol.ErrorMessage("INVALID_MESSAGE", fieldErr))
		return
	}

	ip := payload.IPAddress
	if ip == "" {
		ip = link.RemoteAddr
	}
	info := registry.AgentInfo{
		DeviceID:     payload.DeviceID,
		DeviceName:   payload.DeviceName,
		IPAddress:    ip,
		Capabilities: payload.Capabilities,
	}

	if replaced := r.registry.RegisterAgent(info, link.Transport); replaced != nil {
		log.Printf("Agent %s re-registered, prior connection closed", payload.DeviceID)
	} else {
		log.Printf("Agent registered: %s (%s)", payload.DeviceID, payload.DeviceName)
	}
	link.setDeviceID(payload.DeviceID)

	now := time.Now()
	if err := r.devices.Upsert(context.Background(), &model.DeviceRecord{
		ID:           payload.DeviceID,
		Name:         payload.DeviceName,
		IPAddress:    ip,
		Capabilities: payload.Capabilities,
		FirstSeen:    now,
		LastSeen:     now,
	}); err != nil {
		log.Printf("Failed to record device %s: %v", payload.DeviceID, err)
	}

	ack, err := protocol.NewMessage(protocol.TypeAgentRegisterAck, protocol.RegisterAckPayload{DeviceID: payload.DeviceID})
	if err == nil {
		link.Transport.Send(ack)
	}

	r.broadcastDeviceList()
}

func (r *Relay) handleHeartbeat(link *AgentLink, env protocol.Envelope) {
	payload, fieldErr := protocol.ValidateHeartbeat(env.Payload)
	if fieldErr != "" {
		link.Transport.Send(protocol.ErrorMessage("INVALID_MESSAGE", fieldErr))
		return
	}

	if !r.presence.Heartbeat(payload.DeviceID) {
		// Not an error to the sender: the device may have been swept
		// between its last message and this one.
		log.Printf("Heartbeat from unknown device %s ignored", payload.DeviceID)
		return
	}

	ack, err := protocol.NewMessage(protocol.TypeAgentHeartbeatAck, protocol.HeartbeatPayload{DeviceID: payload.DeviceID})
	if err == nil {
		link.Transport.Send(ack)
	}
}

// DeviceList merges the persistent inventory with live presence into the
// device list payload served over HTTP and broadcast to browsers.
func (r *Relay) DeviceList(ctx context.Context) (protocol.DeviceListPayload, error) {
	records, err := r.devices.List(ctx)
	if err != nil {
		return protocol.DeviceListPayload{}, err
	}

	online := make(map[string]registry.AgentConnection)
	for _, conn := range r.presence.ListOnline() {
		online[conn.DeviceID] = conn
	}

	devices := make([]model.Device, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		device := model.Device{
			ID:           rec.ID,
			Name:         rec.Name,
			IPAddress:    rec.IPAddress,
			Status:       model.DeviceStatusOffline,
			Capabilities: rec.Capabilities,
		}
		if conn, ok := online[rec.ID]; ok {
			device.Status = model.DeviceStatusOnline
			device.Name = conn.DeviceName
			device.IPAddress = conn.IPAddress
			device.Capabilities = conn.Capabilities
		}
		devices = append(devices, device)
		seen[rec.ID] = true
	}
	// Live agents missing from the inventory (a failed upsert) still
	// belong in the list.
	for id, conn := range online {
		if seen[id] {
			continue
		}
		devices = append(devices, model.Device{
			ID:           conn.DeviceID,
			Name:         conn.DeviceName,
			IPAddress:    conn.IPAddress,
			Status:       model.DeviceStatusOnline,
			Capabilities: conn.Capabilities,
		})
	}

	payload := protocol.DeviceListPayload{
		Devices:      devices,
		TotalDevices: len(devices),
	}
	for _, device := range devices {
		if device.Status == model.DeviceStatusOnline {
			payload.OnlineDevices++
		} else {
			payload.OfflineDevices++
		}
	}
	return payload, nil
}

// sendDeviceList sends the current device list to a single transport.
func (r *Relay) sendDeviceList(t registry.Transport) {
	payload, err := r.DeviceList(context.Background())
	if err != nil {
		log.Printf("Failed to build device list: %v", err)
		t.Send(protocol.ErrorMessage("INTERNAL_ERROR", "failed to build device list"))
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeDevicesListResponse, payload)
	if err != nil {
		return
	}
	t.Send(msg)
}

// broadcastDeviceList pushes an updated device list to every browser.
func (r *Relay) broadcastDeviceList() {
	payload, err := r.DeviceList(context.Background())
	if err != nil {
		log.Printf("Failed to build device list: %v", err)
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeDevicesListResponse, payload)
	if err != nil {
		return
	}
	for _, browser := range r.registry.Browsers() {
		browser.Transport.Send(msg)
	}
}

// closeDeviceSessions closes every session bound to the device whose
// agent transport matches the dropped one, notifying the browser side.
// The transport match keeps sessions created on a replacement connection
// alive when the replaced connection's disconnect fires late.
func (r *Relay) closeDeviceSessions(deviceID string, agentTransport registry.Transport, reason string) {
	for _, sess := range r.sessions.ByDevice(deviceID) {
		if agentTransport != nil && sess.AgentTransport != agentTransport {
			continue
		}
		r.closeAndNotify(sess, reason, sess.BrowserTransport)
	}
}

// closeAndNotify closes one session and forwards a close notification
// with the reason to the given peer transport.
func (r *Relay) closeAndNotify(sess *session.Session, reason string, peer registry.Transport) {
	if _, ok := r.sessions.Close(sess.ID, reason); !ok {
		return
	}
	r.proxies[sess.Kind].dropTunnel(sess.ID)
	if peer == nil || !peer.IsOpen() {
		return
	}
	msg, err := protocol.NewMessage(protocol.SessionType(sess.Kind, protocol.OpClose), protocol.ClosePayload{
		SessionID: sess.ID,
		Reason:    reason,
	})
	if err == nil {
		peer.Send(msg)
	}
}

func (r *Relay) touchLastSeen(deviceID string) {
	if err := r.devices.TouchLastSeen(context.Background(), deviceID, time.Now()); err != nil {
		log.Printf("Failed to update last seen for %s: %v", deviceID, err)
	}
}
