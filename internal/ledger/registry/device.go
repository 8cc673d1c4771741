// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package registry maintains the authoritative in-memory set of known
// Ledger devices and mirrors non-sensitive metadata to disk. A live
// connection handle is never persisted.
package registry

import (
	"time"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
)

// Device describes a Ledger device that has been seen by discovery.
// ID is the immutable identity (HID path or Bluetooth address); every
// other field refreshes on each discovery or connection event.
type Device struct {
	ID            string
	Name          string
	Kind          transport.Kind
	ModelID       string
	VendorID      uint16
	ProductID     uint16
	RSSI          int16
	LastSeen      time.Time
	LastConnected time.Time // zero if never connected
	Connected     bool
}
