// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package apdu implements the command/response byte format spoken by
// Ledger devices, plus the link-layer framing that carries it over
// USB HID and BLE.
package apdu

import (
	"encoding/binary"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

// Instruction classes and codes.
const (
	// ClaDashboard addresses the device dashboard (BOLOS), reachable
	// regardless of which app is open.
	ClaDashboard byte = 0xB0
	// InsGetAppAndVersion asks the dashboard for the open app's
	// identity.
	InsGetAppAndVersion byte = 0x01

	// ClaAlgorand addresses the Algorand app.
	ClaAlgorand      byte = 0x80
	InsGetPublicKey  byte = 0x03
	InsSignPayload   byte = 0x08
	P1FirstChunk     byte = 0x00
	P1MoreChunks     byte = 0x80
	P1ConfirmAddress byte = 0x80
	P2LastChunk      byte = 0x00
	P2MoreChunks     byte = 0x80
)

// SWOK is the success status word terminating a response.
const SWOK uint16 = 0x9000

// MaxDataLen is the APDU short-form data limit.
const MaxDataLen = 255

// Command is a single APDU command.
type Command struct {
	Cla  byte
	Ins  byte
	P1   byte
	P2   byte
	Data []byte
}

// Bytes serializes the command in short form: CLA INS P1 P2 Lc DATA.
func (c Command) Bytes() ([]byte, error) {
	if len(c.Data) > MaxDataLen {
		return nil, lederr.Newf(lederr.InvalidRequest, "APDU data length %d exceeds %d", len(c.Data), MaxDataLen)
	}
	out := make([]byte, 0, 5+len(c.Data))
	out = append(out, c.Cla, c.Ins, c.P1, c.P2, byte(len(c.Data)))
	out = append(out, c.Data...)
	return out, nil
}

// SplitStatus separates the trailing status word from a response.
// Responses shorter than the 2-byte status word are communication
// errors.
func SplitStatus(resp []byte) (payload []byte, sw uint16, err error) {
	if len(resp) < 2 {
		return nil, 0, lederr.Newf(lederr.Communication, "APDU response too short: %d bytes", len(resp))
	}
	sw = binary.BigEndian.Uint16(resp[len(resp)-2:])
	return resp[:len(resp)-2], sw, nil
}

// TrimStatus strips a trailing success status word if one is present.
// Devices sometimes omit it on success, so absence is tolerated.
func TrimStatus(resp []byte) []byte {
	if len(resp) >= 2 && binary.BigEndian.Uint16(resp[len(resp)-2:]) == SWOK {
		return resp[:len(resp)-2]
	}
	return resp
}
