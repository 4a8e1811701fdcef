package model

import "errors"

var (
	// ErrNoBrowserTransport is returned when a session names a browser
	// connection that is not currently registered.
	ErrNoBrowserTransport = errors.New("browser connection not registered")

	// ErrNoAgentTransport is returned when a session names a device with
	// no live agent connection.
	ErrNoAgentTransport = errors.New("agent connection not registered")

	// ErrDuplicateSession is returned when a session is created with an id
	// that already exists.
	ErrDuplicateSession = errors.New("session id already exists")

	// ErrUnsupportedKind is returned when a session request names a kind
	// the target device does not support.
	ErrUnsupportedKind = errors.New("session kind not supported by device")

	// ErrDeviceNotFound is returned when a device is not found in the inventory.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrTransportClosed is returned when sending on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
)
