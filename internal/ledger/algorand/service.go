// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package algorand

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"

	"filippo.io/edwards25519"
	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/apdu"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/connection"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

// Session is the slice of the connection manager the signing service
// needs: access to the ready transport and the Ready<->Signing guard.
type Session interface {
	State() connection.State
	ActiveTransport() (transport.Transport, error)
	BeginSigning() (transport.Transport, error)
	EndSigning()
}

// Account is one derived device account.
type Account struct {
	Address         types.Address
	PublicKey       []byte
	DerivationPath  string
	DerivationIndex int64
}

// SigningRequest asks the device to sign one unsigned transaction.
// SignerAddress is optional; when it differs from the transaction
// sender the result carries the authorizing address (rekeyed account).
type SigningRequest struct {
	TransactionBytes []byte
	DerivationIndex  int64
	SignerAddress    string
}

// SignatureResult is the outcome of a successful sign. The caller owns
// it; the service retains nothing.
type SignatureResult struct {
	TransactionID          string
	Signature              []byte
	SignedTransactionBytes []byte
}

// VerifyOptions shapes one VerifyApp call.
type VerifyOptions struct {
	// RequireAppOpen turns an app-name mismatch into a hard failure.
	RequireAppOpen bool
}

// Service drives the Algorand app protocol over the session's
// transport. All device exchanges are serialized by the session's
// single-transport invariant.
type Service struct {
	session Session
	log     *slog.Logger

	mu        sync.Mutex
	cachedApp *AppInfo
}

func NewService(session Session) *Service {
	return &Service{session: session, log: util.Logger}
}

// DeriveAccount asks the device for the public key at the given
// account index. With display set, the device shows the address for
// on-screen confirmation before responding.
func (s *Service) DeriveAccount(ctx context.Context, index int64, display bool) (Account, error) {
	pathBytes, err := serializePath(index)
	if err != nil {
		return Account{}, err
	}
	path, _ := DerivationPath(index)

	tr, err := s.session.ActiveTransport()
	if err != nil {
		return Account{}, err
	}

	p1 := apdu.P1FirstChunk
	if display {
		p1 = apdu.P1ConfirmAddress
	}
	cmd, err := apdu.Command{
		Cla:  apdu.ClaAlgorand,
		Ins:  apdu.InsGetPublicKey,
		P1:   p1,
		Data: pathBytes,
	}.Bytes()
	if err != nil {
		return Account{}, err
	}

	resp, err := tr.Exchange(ctx, cmd)
	if err != nil {
		return Account{}, lederr.Wrap(lederr.Communication, err)
	}
	payload, sw, err := apdu.SplitStatus(resp)
	if err != nil {
		return Account{}, err
	}
	if sw != apdu.SWOK {
		return Account{}, lederr.FromStatusWord(sw)
	}
	if len(payload) < ed25519PublicKeySize {
		return Account{}, lederr.Newf(lederr.Communication, "public key response is %d bytes, want %d", len(payload), ed25519PublicKeySize)
	}

	pub := append([]byte(nil), payload[:ed25519PublicKeySize]...)
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return Account{}, lederr.Wrap(lederr.Communication, err)
	}

	var addr types.Address
	copy(addr[:], pub)

	return Account{
		Address:         addr,
		PublicKey:       pub,
		DerivationPath:  path,
		DerivationIndex: index,
	}, nil
}

const ed25519PublicKeySize = 32

// DeriveAccounts derives count sequential accounts starting at start.
// The protocol has no batch form, so this is count round trips; only
// the first account may be displayed on-device.
func (s *Service) DeriveAccounts(ctx context.Context, start int64, count int, display bool) ([]Account, error) {
	if count <= 0 {
		return nil, lederr.Newf(lederr.InvalidRequest, "account count %d must be positive", count)
	}
	accounts := make([]Account, 0, count)
	for i := 0; i < count; i++ {
		acct, err := s.DeriveAccount(ctx, start+int64(i), display && i == 0)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// VerifyApp probes the device for the open application. While a sign
// is in flight the device must not receive competing exchanges, so the
// last observed app info is returned instead. An app-name mismatch
// under RequireAppOpen is a hard app-not-open failure that callers
// must not retry automatically; the user has to switch apps on the
// device. A version below MinAppVersion only warns.
func (s *Service) VerifyApp(ctx context.Context, opts VerifyOptions) (AppInfo, error) {
	if s.session.State() == connection.StateSigning {
		s.mu.Lock()
		cached := s.cachedApp
		s.mu.Unlock()
		if cached != nil {
			s.log.Debug("verify skipped during signing, returning cached app info", "app", cached.Name)
			return *cached, nil
		}
		return AppInfo{Name: ExpectedAppName, Version: defaultAppVersion}, nil
	}

	tr, err := s.session.ActiveTransport()
	if err != nil {
		return AppInfo{}, err
	}

	cmd, err := apdu.Command{Cla: apdu.ClaDashboard, Ins: apdu.InsGetAppAndVersion}.Bytes()
	if err != nil {
		return AppInfo{}, err
	}
	resp, err := tr.Exchange(ctx, cmd)
	if err != nil {
		return AppInfo{}, lederr.Wrap(lederr.Communication, err)
	}

	info, err := parseAppInfo(resp)
	if err != nil {
		return AppInfo{}, err
	}

	s.mu.Lock()
	s.cachedApp = &info
	s.mu.Unlock()

	if opts.RequireAppOpen && info.Name != ExpectedAppName {
		return info, lederr.Newf(lederr.AppNotOpen, "device is running %q, expected %q", info.Name, ExpectedAppName)
	}
	if CompareVersions(info.Version, MinAppVersion) < 0 {
		s.log.Warn("ledger app older than supported baseline", "version", info.Version, "min", MinAppVersion)
	}
	return info, nil
}

// SignTransaction signs one transaction on the device and assembles
// the final signed-transaction bytes. The session stays in Signing for
// the whole device round trip and is released on every exit path.
func (s *Service) SignTransaction(ctx context.Context, req SigningRequest) (SignatureResult, error) {
	pathBytes, err := serializePath(req.DerivationIndex)
	if err != nil {
		return SignatureResult{}, err
	}

	var txn types.Transaction
	if err := msgpack.Decode(req.TransactionBytes, &txn); err != nil {
		return SignatureResult{}, lederr.Wrap(lederr.InvalidRequest, err)
	}
	canonical := msgpack.Encode(txn)

	payload := make([]byte, hex.EncodedLen(len(canonical)))
	hex.Encode(payload, canonical)

	tr, err := s.session.BeginSigning()
	if err != nil {
		return SignatureResult{}, err
	}
	defer s.session.EndSigning()

	sig, err := s.exchangeSign(ctx, tr, append(pathBytes, payload...))
	if err != nil {
		return SignatureResult{}, err
	}

	return assembleSignedTxn(txn, sig, req.SignerAddress)
}

// exchangeSign streams the sign payload to the device in APDU-sized
// chunks. Intermediate chunks are acknowledged with a bare status
// word; the final chunk's response carries the signature.
func (s *Service) exchangeSign(ctx context.Context, tr transport.Transport, message []byte) ([]byte, error) {
	for offset := 0; ; {
		end := offset + apdu.MaxDataLen
		if end > len(message) {
			end = len(message)
		}

		p1 := apdu.P1MoreChunks
		if offset == 0 {
			p1 = apdu.P1FirstChunk
		}
		p2 := apdu.P2LastChunk
		if end < len(message) {
			p2 = apdu.P2MoreChunks
		}

		cmd, err := apdu.Command{
			Cla:  apdu.ClaAlgorand,
			Ins:  apdu.InsSignPayload,
			P1:   p1,
			P2:   p2,
			Data: message[offset:end],
		}.Bytes()
		if err != nil {
			return nil, err
		}

		resp, err := tr.Exchange(ctx, cmd)
		if err != nil {
			return nil, lederr.Wrap(lederr.Communication, err)
		}

		if end == len(message) {
			return normalizeSignature(resp)
		}

		_, sw, err := apdu.SplitStatus(resp)
		if err != nil {
			return nil, err
		}
		if sw != apdu.SWOK {
			return nil, lederr.FromStatusWord(sw)
		}
		offset = end
	}
}

// normalizeSignature extracts the 64-byte signature from the final
// sign response. A trailing success status word is stripped, but only
// when the response is not already exactly 64 bytes, so a bare
// signature that happens to end in 0x90 0x00 survives intact. A
// response of two or fewer bytes after stripping is the device
// reporting rejection, not a malformed frame.
func normalizeSignature(resp []byte) ([]byte, error) {
	sig := resp
	if len(sig) != ed25519SignatureSize {
		sig = apdu.TrimStatus(sig)
	}

	if len(sig) <= 2 {
		if len(sig) == 2 {
			sw := uint16(sig[0])<<8 | uint16(sig[1])
			if classified := lederr.FromStatusWord(sw); classified.Class != lederr.Unknown {
				return nil, classified
			}
		}
		return nil, lederr.New(lederr.UserRejected, "signing request rejected on device")
	}
	if len(sig) != ed25519SignatureSize {
		return nil, lederr.Newf(lederr.Communication, "signature is %d bytes, want %d", len(sig), ed25519SignatureSize)
	}
	return append([]byte(nil), sig...), nil
}

const ed25519SignatureSize = 64

// assembleSignedTxn wraps a device signature into the final signed
// transaction. A signer distinct from the transaction sender is a
// rekeyed account and stamps the authorizing address.
func assembleSignedTxn(txn types.Transaction, sig []byte, signerAddress string) (SignatureResult, error) {
	var signature types.Signature
	copy(signature[:], sig)

	stxn := types.SignedTxn{
		Sig: signature,
		Txn: txn,
	}

	if signerAddress != "" {
		signer, err := types.DecodeAddress(signerAddress)
		if err != nil {
			return SignatureResult{}, lederr.Wrap(lederr.InvalidRequest, err)
		}
		if signer != txn.Sender {
			stxn.AuthAddr = signer
		}
	}

	return SignatureResult{
		TransactionID:          algocrypto.GetTxID(txn),
		Signature:              sig,
		SignedTransactionBytes: msgpack.Encode(stxn),
	}, nil
}
