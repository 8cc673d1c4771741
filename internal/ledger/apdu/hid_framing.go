// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package apdu

import (
	"encoding/binary"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

// HID link-layer constants.
const (
	HIDChannel    uint16 = 0x0101
	HIDPacketSize        = 64
	tagAPDU       byte   = 0x05
)

// WrapHID turns the command into a sequence of fixed-size packets for
// HID transport. The first packet header carries the total command
// length in place of a sequence index; continuations carry an index
// starting at zero.
func WrapHID(channel uint16, command []byte, packetSize int) ([][]byte, error) {
	if packetSize < 6 {
		return nil, lederr.Newf(lederr.InvalidRequest, "HID packet size %d too small", packetSize)
	}

	header := make([]byte, 5)
	binary.BigEndian.PutUint16(header[0:2], channel)
	header[2] = tagAPDU
	binary.BigEndian.PutUint16(header[3:5], uint16(len(command)))

	first := make([]byte, packetSize)
	copy(first[0:5], header)

	room := packetSize - 5
	if len(command) <= room {
		copy(first[5:], command)
		return [][]byte{first}, nil
	}

	copy(first[5:], command[:room])
	chunks := [][]byte{first}
	offset := room

	seq := uint16(0)
	for offset < len(command) {
		packet := make([]byte, packetSize)
		binary.BigEndian.PutUint16(packet[0:2], channel)
		packet[2] = tagAPDU
		binary.BigEndian.PutUint16(packet[3:5], seq)
		seq++

		n := copy(packet[5:], command[offset:])
		offset += n
		chunks = append(chunks, packet)
	}

	return chunks, nil
}

// HIDResponse reassembles a response delivered across HID packets.
// The first packet declares the total payload length; packets after
// that are continuations until the declared length is reached.
type HIDResponse struct {
	channel  uint16
	expected int
	started  bool
	nextSeq  uint16
	data     []byte
}

// NewHIDResponse creates a reassembler bound to a channel.
func NewHIDResponse(channel uint16) *HIDResponse {
	return &HIDResponse{channel: channel}
}

// Add consumes one packet. Packets for other channels or with a wrong
// tag are protocol violations: the device is the only talker on this
// link, so anything unexpected means a garbled exchange.
func (r *HIDResponse) Add(packet []byte) error {
	if len(packet) < 5 {
		return lederr.Newf(lederr.Communication, "HID packet too short: %d bytes", len(packet))
	}
	if ch := binary.BigEndian.Uint16(packet[0:2]); ch != r.channel {
		return lederr.Newf(lederr.Communication, "HID packet for channel 0x%04x, expected 0x%04x", ch, r.channel)
	}
	if packet[2] != tagAPDU {
		return lederr.Newf(lederr.Communication, "unexpected HID tag 0x%02x", packet[2])
	}

	field := binary.BigEndian.Uint16(packet[3:5])
	if !r.started {
		r.started = true
		r.expected = int(field)
		r.data = make([]byte, 0, r.expected)
	} else {
		if field != r.nextSeq {
			return lederr.Newf(lederr.Communication, "HID packet out of order: seq %d, expected %d", field, r.nextSeq)
		}
		r.nextSeq++
	}

	remaining := r.expected - len(r.data)
	body := packet[5:]
	if len(body) > remaining {
		body = body[:remaining]
	}
	r.data = append(r.data, body...)
	return nil
}

// Complete reports whether the declared payload has fully arrived.
func (r *HIDResponse) Complete() bool {
	return r.started && len(r.data) >= r.expected
}

// Bytes returns the reassembled payload.
func (r *HIDResponse) Bytes() []byte {
	return r.data
}
