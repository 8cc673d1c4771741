// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

// DeviceFileName is the JSON file holding persisted device records
// inside the data directory.
const DeviceFileName = "devices.json"

// persistedDevice is the durable form of a Device. Timestamps marshal
// as RFC 3339. No connection handles, no key material.
type persistedDevice struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	ModelID       string     `json:"model_id,omitempty"`
	VendorID      uint16     `json:"vendor_id,omitempty"`
	ProductID     uint16     `json:"product_id,omitempty"`
	LastSeen      time.Time  `json:"last_seen"`
	LastConnected *time.Time `json:"last_connected,omitempty"`
}

// Store persists device metadata to a JSON file. Writes are throttled
// per device id: rapid updates during an active scan coalesce into at
// most one file write per window. Persistence is best-effort; failures
// are logged and swallowed so metadata loss can never abort a
// connection flow.
type Store struct {
	path   string
	window time.Duration

	mu      sync.Mutex
	records map[string]persistedDevice
	loaded  bool
	pending map[string]bool
	timer   *time.Timer

	// writeFile is swappable for tests.
	writeFile func(string, []byte, os.FileMode) error
}

// NewStore creates a store writing to dataDir/devices.json.
func NewStore(dataDir string, window time.Duration) *Store {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Store{
		path:      filepath.Join(dataDir, DeviceFileName),
		window:    window,
		records:   make(map[string]persistedDevice),
		pending:   make(map[string]bool),
		writeFile: os.WriteFile,
	}
}

// Load reads persisted devices from disk. A missing file is an empty
// store. Restored devices are never connected: a persisted record
// never implies a live session.
func (s *Store) Load() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read device store: %w", err)
	}

	var records []persistedDevice
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse device store: %w", err)
	}

	devices := make([]Device, 0, len(records))
	for _, rec := range records {
		s.records[rec.ID] = rec
		d := Device{
			ID:        rec.ID,
			Name:      rec.Name,
			Kind:      transport.Kind(rec.Type),
			ModelID:   rec.ModelID,
			VendorID:  rec.VendorID,
			ProductID: rec.ProductID,
			LastSeen:  rec.LastSeen,
			Connected: false,
		}
		if rec.LastConnected != nil {
			d.LastConnected = *rec.LastConnected
		}
		devices = append(devices, d)
	}
	s.loaded = true
	return devices, nil
}

// Save records a device for persistence and schedules a throttled
// write. Saves for ids already pending within the window coalesce.
func (s *Store) Save(d Device) {
	rec := persistedDevice{
		ID:        d.ID,
		Name:      d.Name,
		Type:      string(d.Kind),
		ModelID:   d.ModelID,
		VendorID:  d.VendorID,
		ProductID: d.ProductID,
		LastSeen:  d.LastSeen,
	}
	if !d.LastConnected.IsZero() {
		lc := d.LastConnected
		rec.LastConnected = &lc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[d.ID] = rec
	s.pending[d.ID] = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.window, s.flushTimer)
	}
}

// Forget deletes a device record durably. This is the only path that
// removes a persisted record, and it writes immediately.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	delete(s.records, id)
	delete(s.pending, id)
	s.writeLocked()
	s.mu.Unlock()
}

// Flush forces any pending records to disk now.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 {
		return
	}
	s.pending = make(map[string]bool)
	s.writeLocked()
}

func (s *Store) flushTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	s.pending = make(map[string]bool)
	s.writeLocked()
}

// writeLocked serializes every record to the store file. Errors are
// logged, never surfaced.
func (s *Store) writeLocked() {
	records := make([]persistedDevice, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		util.Logger.Warn("device store: marshal failed", "err", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		util.Logger.Warn("device store: mkdir failed", "path", s.path, "err", err)
		return
	}
	if err := s.writeFile(s.path, data, 0o600); err != nil {
		util.Logger.Warn("device store: write failed", "path", s.path, "err", err)
	}
}
