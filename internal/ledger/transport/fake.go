// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package transport

import (
	"context"
	"sync"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

// FakeTransport is a scripted in-memory transport for tests. Each
// Exchange pops the next queued response, or calls Script when set.
// Responses are raw device bytes, so tests can feed truncated and
// malformed payloads byte for byte.
type FakeTransport struct {
	KindValue Kind

	mu           sync.Mutex
	responses    [][]byte
	Script       func(command []byte) ([]byte, error)
	Sent         [][]byte
	Exchanges    int
	CloseErr     error
	Closed       bool
	onDisconnect func(error)
}

// NewFakeTransport creates a fake with queued responses.
func NewFakeTransport(kind Kind, responses ...[]byte) *FakeTransport {
	return &FakeTransport{KindValue: kind, responses: responses}
}

// Queue appends a scripted response.
func (f *FakeTransport) Queue(resp []byte) {
	f.mu.Lock()
	f.responses = append(f.responses, resp)
	f.mu.Unlock()
}

func (f *FakeTransport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, lederr.Wrap(lederr.Communication, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Exchanges++
	f.Sent = append(f.Sent, append([]byte(nil), command...))

	if f.Closed {
		return nil, lederr.New(lederr.DeviceNotConnected, "fake transport closed")
	}
	if f.Script != nil {
		return f.Script(command)
	}
	if len(f.responses) == 0 {
		return nil, lederr.New(lederr.Communication, "fake transport: no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseErr
}

func (f *FakeTransport) OnDisconnect(fn func(error)) {
	f.mu.Lock()
	f.onDisconnect = fn
	f.mu.Unlock()
}

// FireDisconnect simulates the link dropping.
func (f *FakeTransport) FireDisconnect(err error) {
	f.mu.Lock()
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (f *FakeTransport) Kind() Kind {
	if f.KindValue == "" {
		return KindUSB
	}
	return f.KindValue
}
