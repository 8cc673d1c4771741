// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package crypto

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes securely overwrites a byte slice with zeros.
// Uses constant-time operation to prevent compiler optimization.
// Every buffer that held private key material must pass through here
// before it goes out of scope, on success and failure paths alike.
func ZeroBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
	runtime.KeepAlive(b)
}
