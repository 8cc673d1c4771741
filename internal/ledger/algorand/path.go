// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package algorand drives the Ledger Algorand application's APDU
// protocol over a transport owned by the connection manager: address
// derivation, app verification and transaction signing.
package algorand

import (
	"encoding/binary"
	"fmt"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

const (
	bip44Purpose  = 44
	algorandCoin  = 283
	hardenedFlag  = 0x80000000
	pathDepth     = 5

	// MaxDerivationIndex is the largest usable account index. The
	// index occupies a hardened bip32 component, which leaves 31 bits.
	MaxDerivationIndex = 1<<31 - 1
)

// DerivationPath renders the account path m/44'/283'/<index>'/0/0.
func DerivationPath(index int64) (string, error) {
	if err := validateIndex(index); err != nil {
		return "", err
	}
	return fmt.Sprintf("m/44'/283'/%d'/0/0", index), nil
}

func validateIndex(index int64) error {
	if index < 0 || index > MaxDerivationIndex {
		return lederr.Newf(lederr.InvalidRequest, "derivation index %d out of range [0, %d]", index, int64(MaxDerivationIndex))
	}
	return nil
}

// serializePath encodes the account path for the device: a depth byte
// followed by one 4-byte big-endian component per level, hardened
// components carrying the high bit.
func serializePath(index int64) ([]byte, error) {
	if err := validateIndex(index); err != nil {
		return nil, err
	}

	components := [pathDepth]uint32{
		bip44Purpose | hardenedFlag,
		algorandCoin | hardenedFlag,
		uint32(index) | hardenedFlag,
		0,
		0,
	}

	buf := make([]byte, 1+4*pathDepth)
	buf[0] = pathDepth
	for i, c := range components {
		binary.BigEndian.PutUint32(buf[1+4*i:], c)
	}
	return buf, nil
}
