package model

import (
	"encoding/json"
	"time"
)

// SessionKind identifies the kind of relayed stream an agent can serve.
type SessionKind string

const (
	SessionKindSSH SessionKind = "ssh"
	SessionKindRDP SessionKind = "rdp"
)

// Valid reports whether k is a known session kind.
func (k SessionKind) Valid() bool {
	return k == SessionKindSSH || k == SessionKindRDP
}

// Capability returns the capability bit corresponding to the session kind.
func (k SessionKind) Capability() Capabilities {
	switch k {
	case SessionKindSSH:
		return CapSSH
	case SessionKindRDP:
		return CapRDP
	}
	return 0
}

// Capabilities is the set of session kinds a device supports,
// modeled as a bitfield rather than an open-ended record.
type Capabilities uint8

const (
	CapSSH Capabilities = 1 << iota
	CapRDP
)

// Has reports whether the set contains the given capability bits.
func (c Capabilities) Has(bits Capabilities) bool {
	return c&bits == bits
}

// capabilitiesJSON is the wire shape of a capability set.
// The rdp flag is optional on the wire; absent means unsupported.
type capabilitiesJSON struct {
	SSH bool `json:"ssh"`
	RDP bool `json:"rdp,omitempty"`
}

// MarshalJSON encodes the set as {"ssh": bool, "rdp"?: bool}.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	return json.Marshal(capabilitiesJSON{
		SSH: c.Has(CapSSH),
		RDP: c.Has(CapRDP),
	})
}

// UnmarshalJSON decodes the wire shape into the bitfield.
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var wire capabilitiesJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = 0
	if wire.SSH {
		*c |= CapSSH
	}
	if wire.RDP {
		*c |= CapRDP
	}
	return nil
}

// DeviceStatus represents the derived online/offline status of a device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

// Device is the read-only view of a device exposed to browsers and the
// HTTP device list. It is computed on demand and never stored as-is.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	IPAddress    string       `json:"ipAddress"`
	Status       DeviceStatus `json:"status"`
	Capabilities Capabilities `json:"capabilities"`
}

// DeviceRecord is the persisted inventory row for a device that has
// registered at least once. Liveness is never persisted; it is derived
// from the connection registry at read time.
type DeviceRecord struct {
	ID           string
	Name         string
	IPAddress    string
	Capabilities Capabilities
	FirstSeen    time.Time
	LastSeen     time.Time
}
