// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package algorand_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/algorand"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/apdu"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/connection"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
)

// fakeSession stands in for the connection manager.
type fakeSession struct {
	tr    *transport.FakeTransport
	state connection.State
}

func newFakeSession(tr *transport.FakeTransport) *fakeSession {
	return &fakeSession{tr: tr, state: connection.StateReady}
}

func (f *fakeSession) State() connection.State { return f.state }

func (f *fakeSession) ActiveTransport() (transport.Transport, error) {
	if f.state != connection.StateReady {
		return nil, lederr.Newf(lederr.DeviceNotConnected, "no session in state %s", f.state)
	}
	return f.tr, nil
}

func (f *fakeSession) BeginSigning() (transport.Transport, error) {
	if f.state != connection.StateReady {
		return nil, lederr.Newf(lederr.DeviceNotConnected, "cannot sign in state %s", f.state)
	}
	f.state = connection.StateSigning
	return f.tr, nil
}

func (f *fakeSession) EndSigning() {
	if f.state == connection.StateSigning {
		f.state = connection.StateReady
	}
}

func devicePublicKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return pub
}

func withStatus(payload []byte) []byte {
	return append(append([]byte(nil), payload...), 0x90, 0x00)
}

func TestDeriveAccount(t *testing.T) {
	pub := devicePublicKey(t)
	tr := transport.NewFakeTransport(transport.KindUSB, withStatus(pub))
	svc := algorand.NewService(newFakeSession(tr))

	acct, err := svc.DeriveAccount(context.Background(), 3, true)
	if err != nil {
		t.Fatalf("DeriveAccount: %v", err)
	}
	if !bytes.Equal(acct.PublicKey, pub) {
		t.Fatal("public key does not match device response")
	}
	if !bytes.Equal(acct.Address[:], pub) {
		t.Fatal("address bytes must be the public key")
	}
	if acct.DerivationPath != "m/44'/283'/3'/0/0" || acct.DerivationIndex != 3 {
		t.Fatalf("path = %q index = %d", acct.DerivationPath, acct.DerivationIndex)
	}

	cmd := tr.Sent[0]
	if cmd[0] != apdu.ClaAlgorand || cmd[1] != apdu.InsGetPublicKey {
		t.Fatalf("wrong APDU header: % x", cmd[:2])
	}
	if cmd[2] != apdu.P1ConfirmAddress {
		t.Fatal("display request must set the confirm-address flag")
	}
	if cmd[4] != 21 {
		t.Fatalf("path payload length = %d, want 21", cmd[4])
	}
}

func TestDeriveAccountRejectsBadIndexBeforeIO(t *testing.T) {
	tr := transport.NewFakeTransport(transport.KindUSB)
	svc := algorand.NewService(newFakeSession(tr))

	if _, err := svc.DeriveAccount(context.Background(), -1, false); !lederr.Is(err, lederr.InvalidRequest) {
		t.Fatalf("err = %v, want invalid_request", err)
	}
	if tr.Exchanges != 0 {
		t.Fatal("invalid index must fail before any device I/O")
	}
}

func TestDeriveAccountRejectsNonCanonicalKey(t *testing.T) {
	bad := bytes.Repeat([]byte{0xff}, 32)
	tr := transport.NewFakeTransport(transport.KindUSB, withStatus(bad))
	svc := algorand.NewService(newFakeSession(tr))

	if _, err := svc.DeriveAccount(context.Background(), 0, false); !lederr.Is(err, lederr.Communication) {
		t.Fatalf("err = %v, want communication", err)
	}
}

func TestDeriveAccountsDisplaysFirstOnly(t *testing.T) {
	tr := transport.NewFakeTransport(transport.KindUSB)
	for i := 0; i < 3; i++ {
		tr.Queue(withStatus(devicePublicKey(t)))
	}
	svc := algorand.NewService(newFakeSession(tr))

	accounts, err := svc.DeriveAccounts(context.Background(), 10, 3, true)
	if err != nil {
		t.Fatalf("DeriveAccounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("got %d accounts, want 3", len(accounts))
	}
	for i, acct := range accounts {
		if acct.DerivationIndex != 10+int64(i) {
			t.Fatalf("account %d index = %d", i, acct.DerivationIndex)
		}
	}
	if tr.Sent[0][2] != apdu.P1ConfirmAddress {
		t.Fatal("first derivation should display on device")
	}
	for i := 1; i < 3; i++ {
		if tr.Sent[i][2] == apdu.P1ConfirmAddress {
			t.Fatalf("derivation %d must not display on device", i)
		}
	}
}

func TestVerifyAppMismatchIsHardFailure(t *testing.T) {
	resp := []byte{0x01, 5, 'B', 'O', 'L', 'O', 'S', 5, '1', '.', '0', '.', '0', 0x90, 0x00}
	tr := transport.NewFakeTransport(transport.KindUSB, resp)
	svc := algorand.NewService(newFakeSession(tr))

	info, err := svc.VerifyApp(context.Background(), algorand.VerifyOptions{RequireAppOpen: true})
	if !lederr.Is(err, lederr.AppNotOpen) {
		t.Fatalf("err = %v, want app_not_open", err)
	}
	if lederr.Retryable(err) {
		t.Fatal("app mismatch must be non-retryable")
	}
	if info.Name != "BOLOS" {
		t.Fatalf("parsed app name = %q", info.Name)
	}
	if tr.Exchanges != 1 {
		t.Fatalf("exchanges = %d, want exactly 1 (no retry)", tr.Exchanges)
	}
}

func TestVerifyAppAcceptsExpectedApp(t *testing.T) {
	resp := []byte{0x01, 8, 'A', 'l', 'g', 'o', 'r', 'a', 'n', 'd', 6, '1', '.', '2', '.', '1', '5', 0x00, 0x90, 0x00}
	tr := transport.NewFakeTransport(transport.KindUSB, resp)
	svc := algorand.NewService(newFakeSession(tr))

	info, err := svc.VerifyApp(context.Background(), algorand.VerifyOptions{RequireAppOpen: true})
	if err != nil {
		t.Fatalf("VerifyApp: %v", err)
	}
	if info.Name != "Algorand" || info.Version != "1.2.15" {
		t.Fatalf("info = %+v", info)
	}
}

func TestVerifyAppSkippedDuringSigning(t *testing.T) {
	resp := []byte{0x01, 8, 'A', 'l', 'g', 'o', 'r', 'a', 'n', 'd', 5, '2', '.', '0', '.', '6', 0x90, 0x00}
	tr := transport.NewFakeTransport(transport.KindUSB, resp)
	session := newFakeSession(tr)
	svc := algorand.NewService(session)

	if _, err := svc.VerifyApp(context.Background(), algorand.VerifyOptions{}); err != nil {
		t.Fatalf("priming VerifyApp: %v", err)
	}

	session.state = connection.StateSigning
	info, err := svc.VerifyApp(context.Background(), algorand.VerifyOptions{RequireAppOpen: true})
	if err != nil {
		t.Fatalf("VerifyApp during signing: %v", err)
	}
	if info.Version != "2.0.6" {
		t.Fatalf("expected cached app info, got %+v", info)
	}
	if tr.Exchanges != 1 {
		t.Fatalf("exchanges = %d; verify must not race an in-flight sign", tr.Exchanges)
	}
}

func testTransaction(t *testing.T, sender types.Address) types.Transaction {
	t.Helper()
	var receiver types.Address
	receiver[0] = 0x42
	var gh types.Digest
	gh[0] = 0x01
	return types.Transaction{
		Type: types.PaymentTx,
		Header: types.Header{
			Sender:      sender,
			Fee:         1000,
			FirstValid:  1000,
			LastValid:   2000,
			GenesisID:   "voitest-v1",
			GenesisHash: gh,
		},
		PaymentTxnFields: types.PaymentTxnFields{
			Receiver: receiver,
			Amount:   12345,
		},
	}
}

// scriptSigner acknowledges intermediate sign chunks and returns the
// signature on the final one.
func scriptSigner(sig []byte) func(command []byte) ([]byte, error) {
	return func(command []byte) ([]byte, error) {
		if command[3] == apdu.P2MoreChunks {
			return []byte{0x90, 0x00}, nil
		}
		return withStatus(sig), nil
	}
}

func TestSignTransaction(t *testing.T) {
	var sender types.Address
	sender[0] = 0x07
	txn := testTransaction(t, sender)

	sig := bytes.Repeat([]byte{0xab}, 64)
	tr := transport.NewFakeTransport(transport.KindUSB)
	tr.Script = scriptSigner(sig)
	session := newFakeSession(tr)
	svc := algorand.NewService(session)

	result, err := svc.SignTransaction(context.Background(), algorand.SigningRequest{
		TransactionBytes: msgpack.Encode(txn),
		DerivationIndex:  0,
		SignerAddress:    sender.String(),
	})
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	if !bytes.Equal(result.Signature, sig) {
		t.Fatal("signature mismatch")
	}
	if result.TransactionID != algocrypto.GetTxID(txn) {
		t.Fatalf("txid = %q, want %q", result.TransactionID, algocrypto.GetTxID(txn))
	}

	var stxn types.SignedTxn
	if err := msgpack.Decode(result.SignedTransactionBytes, &stxn); err != nil {
		t.Fatalf("decoding signed bytes: %v", err)
	}
	if !bytes.Equal(stxn.Sig[:], sig) {
		t.Fatal("embedded signature mismatch")
	}
	if !stxn.AuthAddr.IsZero() {
		t.Fatal("signer equal to sender must not set an authorizing address")
	}
	if session.state != connection.StateReady {
		t.Fatalf("session state = %s after signing, want ready", session.state)
	}

	// First chunk carries the serialized path.
	first := tr.Sent[0]
	if first[1] != apdu.InsSignPayload || first[2] != apdu.P1FirstChunk {
		t.Fatalf("first chunk header: % x", first[:4])
	}
	if first[5] != 5 {
		t.Fatal("first chunk must open with the path depth byte")
	}
}

func TestSignTransactionRekeyed(t *testing.T) {
	var sender, signer types.Address
	sender[0] = 0x07
	signer[0] = 0x09
	txn := testTransaction(t, sender)

	tr := transport.NewFakeTransport(transport.KindUSB)
	tr.Script = scriptSigner(bytes.Repeat([]byte{0xcd}, 64))
	svc := algorand.NewService(newFakeSession(tr))

	result, err := svc.SignTransaction(context.Background(), algorand.SigningRequest{
		TransactionBytes: msgpack.Encode(txn),
		DerivationIndex:  1,
		SignerAddress:    signer.String(),
	})
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}

	var stxn types.SignedTxn
	if err := msgpack.Decode(result.SignedTransactionBytes, &stxn); err != nil {
		t.Fatalf("decoding signed bytes: %v", err)
	}
	if stxn.AuthAddr != signer {
		t.Fatalf("auth address = %v, want %v", stxn.AuthAddr, signer)
	}
}

func TestSignTransactionRejectionClearsSigningState(t *testing.T) {
	var sender types.Address
	sender[0] = 0x07
	txn := testTransaction(t, sender)

	tr := transport.NewFakeTransport(transport.KindUSB)
	tr.Script = func(command []byte) ([]byte, error) {
		if command[3] == apdu.P2MoreChunks {
			return []byte{0x90, 0x00}, nil
		}
		return []byte{0x69, 0x85}, nil // user pressed reject
	}
	session := newFakeSession(tr)
	svc := algorand.NewService(session)

	_, err := svc.SignTransaction(context.Background(), algorand.SigningRequest{
		TransactionBytes: msgpack.Encode(txn),
	})
	if !lederr.Is(err, lederr.UserRejected) {
		t.Fatalf("err = %v, want user_rejected", err)
	}
	if session.state != connection.StateReady {
		t.Fatalf("session state = %s after rejection, want ready", session.state)
	}
}

func TestSignTransactionRequiresReadySession(t *testing.T) {
	tr := transport.NewFakeTransport(transport.KindUSB)
	session := newFakeSession(tr)
	session.state = connection.StateDisconnected
	svc := algorand.NewService(session)

	var sender types.Address
	_, err := svc.SignTransaction(context.Background(), algorand.SigningRequest{
		TransactionBytes: msgpack.Encode(testTransaction(t, sender)),
	})
	if !lederr.Is(err, lederr.DeviceNotConnected) {
		t.Fatalf("err = %v, want device_not_connected", err)
	}
	if tr.Exchanges != 0 {
		t.Fatal("no device I/O expected without a ready session")
	}
}

func TestSignWithPrivateKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var sender types.Address
	copy(sender[:], pub)
	txn := testTransaction(t, sender)

	key := append(ed25519.PrivateKey(nil), priv...)
	result, err := algorand.SignWithPrivateKey(key, msgpack.Encode(txn), sender.String())
	if err != nil {
		t.Fatalf("SignWithPrivateKey: %v", err)
	}

	toSign := append([]byte("TX"), msgpack.Encode(txn)...)
	if !ed25519.Verify(pub, toSign, result.Signature) {
		t.Fatal("signature does not verify")
	}

	var stxn types.SignedTxn
	if err := msgpack.Decode(result.SignedTransactionBytes, &stxn); err != nil {
		t.Fatalf("decoding signed bytes: %v", err)
	}
	if !stxn.AuthAddr.IsZero() {
		t.Fatal("self-signed transaction must not carry an authorizing address")
	}

	for _, b := range key {
		if b != 0 {
			t.Fatal("private key buffer must be zeroed after signing")
		}
	}
}

func TestSignWithPrivateKeyRekeyed(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var sender, signer types.Address
	sender[0] = 0x11
	copy(signer[:], pub)
	txn := testTransaction(t, sender)

	key := append(ed25519.PrivateKey(nil), priv...)
	result, err := algorand.SignWithPrivateKey(key, msgpack.Encode(txn), signer.String())
	if err != nil {
		t.Fatalf("SignWithPrivateKey: %v", err)
	}

	var stxn types.SignedTxn
	if err := msgpack.Decode(result.SignedTransactionBytes, &stxn); err != nil {
		t.Fatalf("decoding signed bytes: %v", err)
	}
	if stxn.AuthAddr != signer {
		t.Fatalf("auth address = %v, want %v", stxn.AuthAddr, signer)
	}
}

func TestSignWithPrivateKeyZeroesOnFailure(t *testing.T) {
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}

	if _, err := algorand.SignWithPrivateKey(key, []byte{0xff, 0xff}, ""); err == nil {
		t.Fatal("malformed transaction bytes must fail")
	}
	for _, b := range key {
		if b != 0 {
			t.Fatal("private key buffer must be zeroed on failure too")
		}
	}
}
