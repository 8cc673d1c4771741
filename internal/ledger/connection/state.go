// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package connection

// State is the connection manager's position in its lifecycle. There
// is exactly one manager per process because the device protocol
// permits only one active session.
type State int

const (
	StateDisconnected State = iota
	StateDiscovering
	StateConnecting
	StateReady
	StateSigning
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateSigning:
		return "signing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is published on every transition for UI consumption.
type StateChange struct {
	From     State
	To       State
	DeviceID string
}
