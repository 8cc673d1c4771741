// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package discovery wraps vendor BLE/USB scanning behind a ref-counted
// start/stop so concurrent callers (a connection attempt and a UI
// device picker) share one scan session without toggling the radio.
package discovery

import (
	"log/slog"
	"sync"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/registry"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

// Scanner starts and stops vendor-specific scanning for one transport
// kind. Start returns once scanning is active; sightings arrive on the
// sink from a background goroutine until Stop.
type Scanner interface {
	Kind() transport.Kind
	Start(sink func(Event)) error
	Stop() error
}

// Service multiplexes scanners behind per-kind reference counts and
// fans observations out to subscribers and into the registry.
type Service struct {
	registry *registry.Registry
	log      *slog.Logger

	mu       sync.Mutex
	scanners map[transport.Kind]Scanner
	refs     map[transport.Kind]int
	subs     map[int]chan Event
	nextSub  int
}

// NewService creates a discovery service over the given scanners.
func NewService(reg *registry.Registry, scanners ...Scanner) *Service {
	s := &Service{
		registry: reg,
		log:      util.Logger,
		scanners: make(map[transport.Kind]Scanner, len(scanners)),
		refs:     make(map[transport.Kind]int),
		subs:     make(map[int]chan Event),
	}
	for _, sc := range scanners {
		s.scanners[sc.Kind()] = sc
	}
	return s
}

// Acquire increments the scan ref count for kind and starts scanning
// on the 0 -> 1 transition. Permission failures surface as a distinct
// class, never as "device not found".
func (s *Service) Acquire(kind transport.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanner, ok := s.scanners[kind]
	if !ok {
		return lederr.Newf(lederr.InvalidRequest, "no scanner for transport kind %q", kind)
	}

	if s.refs[kind] == 0 {
		if err := scanner.Start(s.handleEvent); err != nil {
			return err
		}
		s.log.Debug("discovery started", "kind", kind)
	}
	s.refs[kind]++
	return nil
}

// Release decrements the ref count for kind and stops scanning on the
// 1 -> 0 transition. A release below zero is a logged no-op.
func (s *Service) Release(kind transport.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs[kind] == 0 {
		s.log.Warn("discovery release without acquire", "kind", kind)
		return
	}
	s.refs[kind]--
	if s.refs[kind] > 0 {
		return
	}

	if scanner, ok := s.scanners[kind]; ok {
		if err := scanner.Stop(); err != nil {
			s.log.Warn("discovery stop failed", "kind", kind, "err", err)
		}
		s.log.Debug("discovery stopped", "kind", kind)
	}
}

// Refs returns the current ref count for a kind.
func (s *Service) Refs(kind transport.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[kind]
}

// Subscribe registers an event channel. The returned cancel func must
// be called to avoid leaking the subscription across reconnects.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// handleEvent is the scanner sink: it reconciles the registry and fans
// the (possibly merged) event out to subscribers.
func (s *Service) handleEvent(ev Event) {
	switch ev.Type {
	case DeviceRemoved:
		s.registry.Remove(ev.Device.ID)
	default:
		_, known := s.registry.Find(ev.Device.ID)
		ev.Device = s.registry.Upsert(ev.Device)
		if known {
			ev.Type = DeviceUpdated
		} else {
			ev.Type = DeviceDiscovered
		}
	}

	s.mu.Lock()
	for _, sub := range s.subs {
		select {
		case sub <- ev:
		default:
			// Slow subscriber; dropping beats blocking the scan.
		}
	}
	s.mu.Unlock()
}
