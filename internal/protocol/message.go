// Package protocol defines the wire-level message envelope, the closed
// set of message kinds, and the shape validators for untrusted payloads.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/remote-access-relay/backend/internal/model"
)

// MessageType is the discriminator string of a wire message.
type MessageType string

const (
	// Agent -> Server message types
	TypeAgentRegister  MessageType = "agent:register"
	TypeAgentHeartbeat MessageType = "agent:heartbeat"

	// Server -> Agent message types
	TypeAgentRegisterAck  MessageType = "agent:register:ack"
	TypeAgentHeartbeatAck MessageType = "agent:heartbeat:ack"

	// Browser -> Server message types
	TypeDevicesListRequest MessageType = "devices:list:request"

	// Server -> Browser message types
	TypeDevicesListResponse MessageType = "devices:list:response"

	// Session-scoped message types (both directions, per kind)
	TypeSSHSessionRequest  MessageType = "ssh:session:request"
	TypeSSHSessionResponse MessageType = "ssh:session:response"
	TypeSSHData            MessageType = "ssh:data"
	TypeSSHResize          MessageType = "ssh:resize"
	TypeSSHClose           MessageType = "ssh:close"
	TypeRDPSessionRequest  MessageType = "rdp:session:request"
	TypeRDPSessionResponse MessageType = "rdp:session:response"
	TypeRDPData            MessageType = "rdp:data"
	TypeRDPClose           MessageType = "rdp:close"

	TypeError MessageType = "error"
)

// SessionOp identifies the session-scoped operation carried by a type.
type SessionOp string

const (
	OpRequest  SessionOp = "session:request"
	OpResponse SessionOp = "session:response"
	OpData     SessionOp = "data"
	OpResize   SessionOp = "resize"
	OpClose    SessionOp = "close"
)

// SplitSessionType breaks a session-scoped type such as "ssh:data" into
// its kind and operation. Returns false for non-session types.
func SplitSessionType(t MessageType) (model.SessionKind, SessionOp, bool) {
	kind, op, found := strings.Cut(string(t), ":")
	if !found || !model.SessionKind(kind).Valid() {
		return "", "", false
	}
	switch SessionOp(op) {
	case OpRequest, OpResponse, OpData, OpResize, OpClose:
		return model.SessionKind(kind), SessionOp(op), true
	}
	return "", "", false
}

// SessionType builds the wire type for a session kind and operation.
func SessionType(kind model.SessionKind, op SessionOp) MessageType {
	return MessageType(string(kind) + ":" + string(op))
}

// Role identifies which side of the relay originated a message.
type Role int

const (
	RoleAgent Role = iota
	RoleBrowser
)

var agentTypes = map[MessageType]bool{
	TypeAgentRegister:      true,
	TypeAgentHeartbeat:     true,
	TypeSSHSessionResponse: true,
	TypeSSHData:            true,
	TypeSSHClose:           true,
	TypeRDPSessionResponse: true,
	TypeRDPData:            true,
	TypeRDPClose:           true,
}

var browserTypes = map[MessageType]bool{
	TypeDevicesListRequest: true,
	TypeSSHSessionRequest:  true,
	TypeSSHData:            true,
	TypeSSHResize:          true,
	TypeSSHClose:           true,
	TypeRDPSessionRequest:  true,
	TypeRDPData:            true,
	TypeRDPClose:           true,
}

// KnownType reports whether the type belongs to the closed enumeration
// for the given role. Well-formed messages with types outside the
// enumeration are silently ignored, never rejected.
func KnownType(role Role, t MessageType) bool {
	if role == RoleAgent {
		return agentTypes[t]
	}
	return browserTypes[t]
}

// Envelope is the wire-level message contract, preserved exactly:
// {"type": string, "timestamp": number, "payload"?: object}.
// Timestamp is in Unix milliseconds.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope parses and structurally validates an inbound message.
// The returned string is empty on success, or a field-level description
// of what is wrong. Validators never panic on malformed input.
func DecodeEnvelope(data []byte) (Envelope, string) {
	var aux struct {
		Type      *string         `json:"type"`
		Timestamp *int64          `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return Envelope{}, "message is not valid JSON"
	}
	if aux.Type == nil || *aux.Type == "" {
		return Envelope{}, "type is required"
	}
	if aux.Timestamp == nil {
		return Envelope{}, "timestamp is required"
	}
	return Envelope{
		Type:      MessageType(*aux.Type),
		Timestamp: *aux.Timestamp,
		Payload:   aux.Payload,
	}, ""
}

// NewMessage serializes an outbound message with the current timestamp.
func NewMessage(t MessageType, payload any) ([]byte, error) {
	env := struct {
		Type      MessageType `json:"type"`
		Timestamp int64       `json:"timestamp"`
		Payload   any         `json:"payload,omitempty"`
	}{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	return json.Marshal(env)
}

// ErrorMessage builds a typed error message for sending back to the
// origin of an invalid or unservable request.
func ErrorMessage(code, message string) []byte {
	data, err := NewMessage(TypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		// ErrorPayload is always marshalable.
		return nil
	}
	return data
}
