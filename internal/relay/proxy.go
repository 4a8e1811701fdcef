package relay

import (
	"log"
	"sync"

	"github.com/remote-access-relay/backend/internal/guac"
	"github.com/remote-access-relay/backend/internal/model"
	"github.com/remote-access-relay/backend/internal/protocol"
	"github.com/remote-access-relay/backend/internal/registry"
	"github.com/remote-access-relay/backend/internal/session"
)

// proxy relays one session kind between its two endpoints. Both proxies
// share the same shape; resize exists only for terminal sessions and the
// instruction tunnel only for remote-desktop ones.
type proxy struct {
	kind     model.SessionKind
	sessions *session.Manager

	mu      sync.Mutex
	tunnels map[string]*guac.Handshake
}

func newProxy(kind model.SessionKind, sessions *session.Manager) *proxy {
	return &proxy{
		kind:     kind,
		sessions: sessions,
		tunnels:  make(map[string]*guac.Handshake),
	}
}

func (p *proxy) handleBrowserMessage(op protocol.SessionOp, env protocol.Envelope, raw []byte, browserID string, t registry.Transport) {
	switch op {
	case protocol.OpRequest:
		p.handleSessionRequest(env, browserID, t)
	case protocol.OpData:
		p.handleData(env, raw, false)
	case protocol.OpResize:
		p.handleResize(env, raw, t)
	case protocol.OpClose:
		p.handleClose(env, false)
	}
}

func (p *proxy) handleAgentMessage(op protocol.SessionOp, env protocol.Envelope, raw []byte, t registry.Transport) {
	switch op {
	case protocol.OpResponse:
		p.handleSessionResponse(env, t)
	case protocol.OpData:
		p.handleData(env, raw, true)
	case protocol.OpClose:
		p.handleClose(env, true)
	}
}

// handleSessionRequest validates the request, creates the session record
// and forwards the request to the agent. Any failure earns the browser a
// typed error and nothing else happens; a session is never left
// half-created.
func (p *proxy) handleSessionRequest(env protocol.Envelope, browserID string, t registry.Transport) {
	payload, fieldErr := protocol.ValidateSessionRequest(env.Payload)
	if fieldErr != "" {
		t.Send(protocol.ErrorMessage("INVALID_MESSAGE", fieldErr))
		return
	}

	sess, err := p.sessions.Create(p.kind, payload.DeviceID, browserID, payload.SessionID)
	if err != nil {
		t.Send(protocol.ErrorMessage(requestErrorCode(err), err.Error()))
		return
	}

	if p.kind == model.SessionKindSSH && payload.Cols > 0 && payload.Rows > 0 {
		p.sessions.Resize(sess.ID, payload.Cols, payload.Rows)
	}

	if !sess.AgentTransport.IsOpen() {
		p.sessions.Close(sess.ID, "agent transport closed at request time")
		t.Send(protocol.ErrorMessage("AGENT_UNAVAILABLE", "agent for device "+payload.DeviceID+" is not connected"))
		return
	}

	if p.kind == model.SessionKindRDP {
		p.createTunnel(sess, payload)
	}

	// Forward with the resolved session id so a generated id reaches
	// the agent.
	payload.SessionID = sess.ID
	msg, err := protocol.NewMessage(protocol.SessionType(p.kind, protocol.OpRequest), payload)
	if err != nil {
		return
	}
	sess.AgentTransport.Send(msg)
}

// handleSessionResponse moves the session out of the connecting state:
// active on success, closed (with the decline reason relayed verbatim)
// on failure. A response for an unknown session id is logged and dropped.
func (p *proxy) handleSessionResponse(env protocol.Envelope, t registry.Transport) {
	payload, fieldErr := protocol.ValidateSessionResponse(env.Payload)
	if fieldErr != "" {
		t.Send(protocol.ErrorMessage("INVALID_MESSAGE", fieldErr))
		return
	}

	sess, ok := p.sessions.Get(payload.SessionID)
	if !ok {
		log.Printf("Session response for unknown session %s dropped", payload.SessionID)
		return
	}

	if payload.Success {
		p.sessions.Activate(sess.ID)
		p.startTunnel(sess.ID)
	} else {
		reason := payload.Error
		if reason == "" {
			reason = "session rejected by agent"
		}
		p.sessions.Close(sess.ID, reason)
		p.dropTunnel(sess.ID)
	}

	if !sess.BrowserTransport.IsOpen() {
		return
	}
	msg, err := protocol.NewMessage(protocol.SessionType(p.kind, protocol.OpResponse), payload)
	if err == nil {
		sess.BrowserTransport.Send(msg)
	}
}

// handleData forwards a data message to the opposite endpoint. An absent
// session is a benign race with a concurrent close: the message is
// dropped with no error surfaced. Remote-desktop data from the agent
// runs through the instruction tunnel instead of being forwarded as-is.
func (p *proxy) handleData(env protocol.Envelope, raw []byte, fromAgent bool) {
	payload, fieldErr := protocol.ValidateData(env.Payload)
	if fieldErr != "" {
		return
	}

	sess, ok := p.sessions.Get(payload.SessionID)
	if !ok {
		return
	}

	if fromAgent {
		if tunnel := p.getTunnel(sess.ID); tunnel != nil {
			if err := tunnel.Receive([]byte(payload.Data)); err != nil {
				p.sessions.Close(sess.ID, err.Error())
				p.dropTunnel(sess.ID)
				sess.AgentTransport.Close(err.Error())
			}
			return
		}
		if sess.BrowserTransport.IsOpen() {
			sess.BrowserTransport.Send(raw)
		}
		return
	}

	if sess.AgentTransport.IsOpen() {
		sess.AgentTransport.Send(raw)
	}
}

// handleResize updates the session's terminal size and forwards the
// resize to the agent.
func (p *proxy) handleResize(env protocol.Envelope, raw []byte, t registry.Transport) {
	payload, fieldErr := protocol.ValidateResize(env.Payload)
	if fieldErr != "" {
		t.Send(protocol.ErrorMessage("INVALID_MESSAGE", fieldErr))
		return
	}

	if !p.sessions.Resize(payload.SessionID, payload.Cols, payload.Rows) {
		return
	}
	sess, ok := p.sessions.Get(payload.SessionID)
	if !ok {
		return
	}
	if sess.AgentTransport.IsOpen() {
		sess.AgentTransport.Send(raw)
	}
}

// handleClose closes the session and forwards a close notification to
// the other endpoint, carrying the reason. Closing an already absent
// session is a no-op.
func (p *proxy) handleClose(env protocol.Envelope, fromAgent bool) {
	payload, fieldErr := protocol.ValidateClose(env.Payload)
	if fieldErr != "" {
		return
	}

	sess, ok := p.sessions.Close(payload.SessionID, payload.Reason)
	if !ok {
		return
	}
	p.dropTunnel(sess.ID)

	peer := sess.AgentTransport
	if fromAgent {
		peer = sess.BrowserTransport
	}
	if !peer.IsOpen() {
		return
	}
	msg, err := protocol.NewMessage(protocol.SessionType(p.kind, protocol.OpClose), payload)
	if err == nil {
		peer.Send(msg)
	}
}

// createTunnel builds the instruction tunnel for a remote-desktop
// session. Negotiation replies travel toward the agent as data
// messages; post-handshake instructions are re-segmented toward the
// browser, one instruction-aligned data message at a time.
func (p *proxy) createTunnel(sess *session.Session, payload protocol.SessionRequestPayload) {
	sessionID := sess.ID
	agentT := sess.AgentTransport
	browserT := sess.BrowserTransport

	config := guac.Config{
		Protocol:       string(model.SessionKindRDP),
		Width:          payload.Cols,
		Height:         payload.Rows,
		AudioMimetypes: []string{"audio/L16"},
		ImageMimetypes: []string{"image/png", "image/jpeg"},
		Parameters:     payload.Settings,
	}

	send := func(inst guac.Instruction) error {
		msg, err := protocol.NewMessage(protocol.TypeRDPData, protocol.DataPayload{
			SessionID: sessionID,
			Data:      inst.String(),
		})
		if err != nil {
			return err
		}
		return agentT.Send(msg)
	}
	forward := func(inst guac.Instruction) {
		if !browserT.IsOpen() {
			return
		}
		msg, err := protocol.NewMessage(protocol.TypeRDPData, protocol.DataPayload{
			SessionID: sessionID,
			Data:      inst.String(),
		})
		if err == nil {
			browserT.Send(msg)
		}
	}

	p.mu.Lock()
	p.tunnels[sessionID] = guac.NewHandshake(config, send, forward)
	p.mu.Unlock()
}

// startTunnel opens the negotiation once the agent has accepted.
func (p *proxy) startTunnel(sessionID string) {
	tunnel := p.getTunnel(sessionID)
	if tunnel == nil {
		return
	}
	if err := tunnel.Start(); err != nil {
		log.Printf("Failed to start tunnel for session %s: %v", sessionID, err)
	}
}

func (p *proxy) getTunnel(sessionID string) *guac.Handshake {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tunnels[sessionID]
}

// dropTunnel discards the tunnel state for a closed session.
func (p *proxy) dropTunnel(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tunnels, sessionID)
}

// requestErrorCode maps a session creation failure to the typed error
// code surfaced to the requesting browser.
func requestErrorCode(err error) string {
	switch err {
	case model.ErrNoAgentTransport:
		return "AGENT_UNAVAILABLE"
	case model.ErrNoBrowserTransport:
		return "BROWSER_UNAVAILABLE"
	case model.ErrDuplicateSession:
		return "SESSION_EXISTS"
	case model.ErrUnsupportedKind:
		return "UNSUPPORTED_KIND"
	}
	return "SESSION_ERROR"
}
