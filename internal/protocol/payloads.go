package protocol

import (
	"encoding/json"

	"github.com/remote-access-relay/backend/internal/model"
)

// RegisterPayload is carried by agent:register.
type RegisterPayload struct {
	DeviceID     string             `json:"deviceId"`
	DeviceName   string             `json:"deviceName"`
	IPAddress    string             `json:"ipAddress,omitempty"`
	Capabilities model.Capabilities `json:"capabilities"`
}

// RegisterAckPayload is carried by agent:register:ack.
type RegisterAckPayload struct {
	DeviceID string `json:"deviceId"`
}

// HeartbeatPayload is carried by agent:heartbeat.
type HeartbeatPayload struct {
	DeviceID string `json:"deviceId"`
}

// DeviceListPayload is carried by devices:list:response.
type DeviceListPayload struct {
	Devices        []model.Device `json:"devices"`
	TotalDevices   int            `json:"totalDevices"`
	OnlineDevices  int            `json:"onlineDevices"`
	OfflineDevices int            `json:"offlineDevices"`
}

// SessionRequestPayload is carried by {ssh,rdp}:session:request.
// Settings is opaque connection detail (credentials, display options)
// passed through to the agent, never validated by the relay.
type SessionRequestPayload struct {
	SessionID string            `json:"sessionId,omitempty"`
	DeviceID  string            `json:"deviceId"`
	Cols      int               `json:"cols,omitempty"`
	Rows      int               `json:"rows,omitempty"`
	Settings  map[string]string `json:"settings,omitempty"`
}

// SessionResponsePayload is carried by {ssh,rdp}:session:response.
type SessionResponsePayload struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// DataPayload is carried by {ssh,rdp}:data. Data is an opaque string
// blob; the relay does not interpret its encoding.
type DataPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// ResizePayload is carried by ssh:resize.
type ResizePayload struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// ClosePayload is carried by {ssh,rdp}:close.
type ClosePayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorPayload is carried by error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validators check the payload shape for each known message type. Each
// returns the typed value plus a field-level error string; the string is
// empty when the payload is well-formed. They guarantee type and
// required-field presence only; referential checks (does this session or
// device exist) belong to the consuming handler.

func unmarshalPayload(raw json.RawMessage, dst any) string {
	if len(raw) == 0 {
		return "payload is required"
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return "payload has wrong shape: " + err.Error()
	}
	return ""
}

// ValidateRegister checks an agent:register payload.
func ValidateRegister(raw json.RawMessage) (RegisterPayload, string) {
	var p RegisterPayload
	if msg := unmarshalPayload(raw, &p); msg != "" {
		return RegisterPayload{}, msg
	}
	if p.DeviceID == "" {
		return RegisterPayload{}, "deviceId is required"
	}
	if p.DeviceName == "" {
		return RegisterPayload{}, "deviceName is required"
	}
	return p, ""
}

// ValidateHeartbeat checks an agent:heartbeat payload.
func ValidateHeartbeat(raw json.RawMessage) (HeartbeatPayload, string) {
	var p HeartbeatPayload
	if msg := unmarshalPayload(raw, &p); msg != "" {
		return HeartbeatPayload{}, msg
	}
	if p.DeviceID == "" {
		return HeartbeatPayload{}, "deviceId is required"
	}
	return p, ""
}

// ValidateSessionRequest checks a {ssh,rdp}:session:request payload.
func ValidateSessionRequest(raw json.RawMessage) (SessionRequestPayload, string) {
	var p SessionRequestPayload
	if msg := unmarshalPayload(raw, &p); msg != "" {
		return SessionRequestPayload{}, msg
	}
	if p.DeviceID == "" {
		return SessionRequestPayload{}, "deviceId is required"
	}
	return p, ""
}

// ValidateSessionResponse checks a {ssh,rdp}:session:response payload.
func ValidateSessionResponse(raw json.RawMessage) (SessionResponsePayload, string) {
	var p SessionResponsePayload
	if msg := unmarshalPayload(raw, &p); msg != "" {
		return SessionResponsePayload{}, msg
	}
	if p.SessionID == "" {
		return SessionResponsePayload{}, "sessionId is required"
	}
	return p, ""
}

// ValidateData checks a {ssh,rdp}:data payload.
func ValidateData(raw json.RawMessage) (DataPayload, string) {
	var p DataPayload
	if msg := unmarshalPayload(raw, &p); msg != "" {
		return DataPayload{}, msg
	}
	if p.SessionID == "" {
		return DataPayload{}, "sessionId is required"
	}
	return p, ""
}

// ValidateResize checks an ssh:resize payload.
func ValidateResize(raw json.RawMessage) (ResizePayload, string) {
	var p ResizePayload
	if msg := unmarshalPayload(raw, &p); msg != "" {
		return ResizePayload{}, msg
	}
	if p.SessionID == "" {
		return ResizePayload{}, "sessionId is required"
	}
	if p.Cols <= 0 || p.Rows <= 0 {
		return ResizePayload{}, "cols and rows must be positive"
	}
	return p, ""
}

// ValidateClose checks a {ssh,rdp}:close payload and applies the default
// reason when none is supplied.
func ValidateClose(raw json.RawMessage) (ClosePayload, string) {
	var p ClosePayload
	if msg := unmarshalPayload(raw, &p); msg != "" {
		return ClosePayload{}, msg
	}
	if p.SessionID == "" {
		return ClosePayload{}, "sessionId is required"
	}
	if p.Reason == "" {
		p.Reason = model.DefaultCloseReason
	}
	return p, ""
}
