// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package discovery

import (
	"sync"
	"time"

	"github.com/zondax/hid"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/registry"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
)

const defaultUSBPollInterval = time.Second

// USBScanner discovers Ledger HID devices. HID has no event API, so
// the scanner polls the enumeration and diffs snapshots into
// discovered/updated/removed events.
type USBScanner struct {
	PollInterval time.Duration

	// enumerate is swappable for tests.
	enumerate func() []hid.DeviceInfo

	mu   sync.Mutex
	stop chan struct{}
}

func NewUSBScanner() *USBScanner {
	return &USBScanner{
		PollInterval: defaultUSBPollInterval,
		enumerate:    transport.EnumerateUSB,
	}
}

func (s *USBScanner) Kind() transport.Kind { return transport.KindUSB }

func (s *USBScanner) Start(sink func(Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop

	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultUSBPollInterval
	}

	go s.poll(stop, interval, sink)
	return nil
}

func (s *USBScanner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	return nil
}

func (s *USBScanner) poll(stop chan struct{}, interval time.Duration, sink func(Event)) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	scan := func() {
		current := make(map[string]bool)
		for _, d := range s.enumerate() {
			current[d.Path] = true
			sink(Event{
				Type: DeviceDiscovered, // service reconciles to updated
				Device: registry.Device{
					ID:        d.Path,
					Name:      d.Product,
					Kind:      transport.KindUSB,
					ModelID:   transport.ModelName(d.ProductID),
					VendorID:  d.VendorID,
					ProductID: d.ProductID,
					LastSeen:  time.Now(),
				},
			})
		}
		for id := range seen {
			if !current[id] {
				sink(Event{Type: DeviceRemoved, Device: registry.Device{ID: id, Kind: transport.KindUSB}})
			}
		}
		seen = current
	}

	scan()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			scan()
		}
	}
}
