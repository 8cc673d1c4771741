// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package apdu

import (
	"encoding/binary"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

// BLE link-layer constants. Frames have no channel field; the GATT
// characteristic is the channel.
const (
	// BLEDefaultFrameSize is used until the MTU handshake succeeds.
	BLEDefaultFrameSize = 20
	// TagMTU is the control frame requesting/announcing the usable
	// frame size.
	TagMTU byte = 0x08
)

// MTURequestFrame is the control frame asking the device for its
// usable frame size. The reply arrives as a TagMTU notification whose
// last byte is the size.
var MTURequestFrame = []byte{TagMTU, 0x00, 0x00, 0x00, 0x00}

// ParseMTUResponse extracts the negotiated frame size from a TagMTU
// notification. Returns 0 if the frame is not an MTU response.
func ParseMTUResponse(frame []byte) int {
	if len(frame) < 2 || frame[0] != TagMTU {
		return 0
	}
	return int(frame[len(frame)-1])
}

// WrapBLE splits a command into GATT write payloads. The first frame
// is [tag][seq=0][totalLen][data], continuations are [tag][seq][data].
func WrapBLE(command []byte, frameSize int) ([][]byte, error) {
	if frameSize < 6 {
		return nil, lederr.Newf(lederr.InvalidRequest, "BLE frame size %d too small", frameSize)
	}

	var frames [][]byte
	seq := uint16(0)
	offset := 0

	for offset < len(command) || seq == 0 {
		header := 3
		if seq == 0 {
			header = 5
		}
		frame := make([]byte, header, frameSize)
		frame[0] = tagAPDU
		binary.BigEndian.PutUint16(frame[1:3], seq)
		if seq == 0 {
			binary.BigEndian.PutUint16(frame[3:5], uint16(len(command)))
		}

		room := frameSize - header
		end := offset + room
		if end > len(command) {
			end = len(command)
		}
		frame = append(frame, command[offset:end]...)
		offset = end
		seq++
		frames = append(frames, frame)
	}

	return frames, nil
}

// BLEResponse reassembles a response from notification frames.
type BLEResponse struct {
	expected int
	started  bool
	nextSeq  uint16
	data     []byte
}

// Add consumes one notification frame. MTU control frames are skipped
// so a late handshake reply cannot corrupt an exchange.
func (r *BLEResponse) Add(frame []byte) error {
	if len(frame) == 0 {
		return lederr.New(lederr.Communication, "empty BLE frame")
	}
	if frame[0] == TagMTU {
		return nil
	}
	if frame[0] != tagAPDU {
		return lederr.Newf(lederr.Communication, "unexpected BLE tag 0x%02x", frame[0])
	}
	if len(frame) < 3 {
		return lederr.Newf(lederr.Communication, "BLE frame too short: %d bytes", len(frame))
	}

	seq := binary.BigEndian.Uint16(frame[1:3])
	if seq != r.nextSeq {
		return lederr.Newf(lederr.Communication, "BLE frame out of order: seq %d, expected %d", seq, r.nextSeq)
	}
	r.nextSeq++

	body := frame[3:]
	if seq == 0 {
		if len(frame) < 5 {
			return lederr.Newf(lederr.Communication, "BLE first frame too short: %d bytes", len(frame))
		}
		r.expected = int(binary.BigEndian.Uint16(frame[3:5]))
		r.started = true
		r.data = make([]byte, 0, r.expected)
		body = frame[5:]
	}

	remaining := r.expected - len(r.data)
	if len(body) > remaining {
		body = body[:remaining]
	}
	r.data = append(r.data, body...)
	return nil
}

// Complete reports whether the declared payload has fully arrived.
func (r *BLEResponse) Complete() bool {
	return r.started && len(r.data) >= r.expected
}

// Bytes returns the reassembled payload.
func (r *BLEResponse) Bytes() []byte {
	return r.data
}
