// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package discovery

import (
	"strings"
	"sync"
	"time"

	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/registry"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

// BLEScanner discovers Ledger devices over BlueZ, filtered to the
// Ledger GATT service UUID. An empty AdapterID selects the default
// adapter.
type BLEScanner struct {
	AdapterID string

	mu     sync.Mutex
	cancel func()
}

func NewBLEScanner() *BLEScanner {
	return &BLEScanner{}
}

func (s *BLEScanner) Kind() transport.Kind { return transport.KindBLE }

func (s *BLEScanner) Start(sink func(Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	var (
		a   *adapter.Adapter1
		err error
	)
	if s.AdapterID == "" {
		a, err = adapter.GetDefaultAdapter()
	} else {
		a, err = adapter.GetAdapter(s.AdapterID)
	}
	if err != nil {
		return classifyScanErr(err)
	}

	filter := adapter.NewDiscoveryFilter()
	filter.UUIDs = []string{transport.LedgerServiceUUID}
	filter.Transport = "le"

	discoveries, cancel, err := api.Discover(a, &filter)
	if err != nil {
		return classifyScanErr(err)
	}
	s.cancel = cancel

	go func() {
		for ev := range discoveries {
			if ev == nil {
				continue
			}
			if ev.Type == adapter.DeviceRemoved {
				sink(Event{Type: DeviceRemoved, Device: registry.Device{
					ID:   addressFromPath(string(ev.Path)),
					Kind: transport.KindBLE,
				}})
				continue
			}

			dev, err := device.NewDevice1(ev.Path)
			if err != nil || dev == nil {
				continue
			}
			sink(Event{Type: DeviceDiscovered, Device: registry.Device{
				ID:       dev.Properties.Address,
				Name:     dev.Properties.Name,
				Kind:     transport.KindBLE,
				RSSI:     dev.Properties.RSSI,
				LastSeen: time.Now(),
			}})
		}
	}()

	return nil
}

func (s *BLEScanner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// classifyScanErr maps BlueZ scan failures. Host-OS permission denial
// is its own class so the UI can send the user to system settings
// instead of claiming no device exists.
func classifyScanErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "NotAuthorized") || strings.Contains(msg, "AccessDenied") {
		util.Logger.Warn("bluetooth permission denied", "err", err)
		return lederr.Wrap(lederr.PermissionDenied, err)
	}
	return lederr.Wrap(lederr.ConnectionFailed, err)
}

// addressFromPath recovers a Bluetooth address from a BlueZ object
// path like /org/bluez/hci0/dev_F0_0D_12_34_56_78.
func addressFromPath(path string) string {
	idx := strings.LastIndex(path, "dev_")
	if idx < 0 {
		return path
	}
	return strings.ReplaceAll(path[idx+len("dev_"):], "_", ":")
}
