// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package algorand

import (
	"crypto/ed25519"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/xarmian/voi-wallet-sub004/internal/crypto"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

// SignWithPrivateKey is the software fallback for accounts whose key
// lives in the local keystore instead of on a device. The private key
// buffer is zeroed before returning, on success and failure alike.
func SignWithPrivateKey(privateKey ed25519.PrivateKey, txnBytes []byte, signerAddress string) (SignatureResult, error) {
	defer crypto.ZeroBytes(privateKey)

	if len(privateKey) != ed25519.PrivateKeySize {
		return SignatureResult{}, lederr.Newf(lederr.InvalidRequest, "private key is %d bytes, want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	var txn types.Transaction
	if err := msgpack.Decode(txnBytes, &txn); err != nil {
		return SignatureResult{}, lederr.Wrap(lederr.InvalidRequest, err)
	}

	// Domain-separated signing input: "TX" prefix + canonical msgpack.
	toSign := append([]byte("TX"), msgpack.Encode(txn)...)
	sig := ed25519.Sign(privateKey, toSign)

	return assembleSignedTxn(txn, sig, signerAddress)
}
