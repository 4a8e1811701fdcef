package model

// SessionStatus represents the lifecycle state of a relayed session.
type SessionStatus string

const (
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusClosed     SessionStatus = "closed"
)

// TerminalSize holds the dimensions of a terminal session.
type TerminalSize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// DefaultCloseReason is used when a close request carries no reason string.
const DefaultCloseReason = "Session closed"

// Close reasons produced by cascading cleanup.
const (
	ReasonBrowserDisconnected = "Browser disconnected"
	ReasonAgentDisconnected   = "Agent disconnected"
	ReasonStale               = "stale"
	ReasonReplaced            = "Replaced by new connection"
)
