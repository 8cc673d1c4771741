// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package transport defines the link to a Ledger device and its BLE
// and USB implementations. Callers exchange whole APDUs; framing and
// reassembly live below this interface.
package transport

import "context"

// Kind identifies the physical link.
type Kind string

const (
	KindBLE Kind = "ble"
	KindUSB Kind = "usb"
)

// Transport is a single open link to a Ledger device.
//
// Exchange sends one APDU command and blocks for the full response.
// A Transport is owned by exactly one caller at a time; exchanges are
// never issued in parallel.
type Transport interface {
	Exchange(ctx context.Context, command []byte) ([]byte, error)
	Close() error
	// OnDisconnect registers a callback fired once when the underlying
	// link drops outside of Close. Passing nil detaches the handler.
	OnDisconnect(fn func(err error))
	Kind() Kind
}

// Opener opens a Transport to a device by its identifier: the HID path
// for USB, the MAC address for BLE.
type Opener interface {
	Open(ctx context.Context, deviceID string) (Transport, error)
	Kind() Kind
}

// drainStale empties packets buffered by a read loop while no exchange
// was waiting, typically a response that arrived after its exchange
// timed out. Skipping this would hand the stale response to the next
// exchange and desynchronize every exchange after it.
func drainStale(ch <-chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
