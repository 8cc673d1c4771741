// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package discovery

import "github.com/xarmian/voi-wallet-sub004/internal/ledger/registry"

// EventType classifies a discovery event.
type EventType int

const (
	DeviceDiscovered EventType = iota
	DeviceUpdated
	DeviceRemoved
)

func (t EventType) String() string {
	switch t {
	case DeviceDiscovered:
		return "discovered"
	case DeviceUpdated:
		return "updated"
	case DeviceRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one discovery observation.
type Event struct {
	Type   EventType
	Device registry.Device
}
