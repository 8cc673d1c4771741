// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package registry

import (
	"sort"
	"sync"
	"time"
)

// Registry is the in-memory set of known devices. A nil store disables
// persistence (useful in tests).
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	store   *Store
}

// New creates a registry backed by store.
func New(store *Store) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		store:   store,
	}
}

// LoadPersisted restores devices from the store into memory. Restored
// devices are disconnected by definition.
func (r *Registry) LoadPersisted() ([]Device, error) {
	if r.store == nil {
		return nil, nil
	}
	devices, err := r.store.Load()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for i := range devices {
		d := devices[i]
		if _, exists := r.devices[d.ID]; !exists {
			r.devices[d.ID] = &d
		}
	}
	r.mu.Unlock()
	return devices, nil
}

// Upsert creates or refreshes a device from a discovery event and
// returns the merged record. Identity is immutable; live connection
// state is preserved across metadata refreshes.
func (r *Registry) Upsert(in Device) Device {
	r.mu.Lock()

	existing, ok := r.devices[in.ID]
	if !ok {
		d := in
		if d.LastSeen.IsZero() {
			d.LastSeen = time.Now()
		}
		r.devices[in.ID] = &d
		r.mu.Unlock()
		r.persist(d)
		return d
	}

	if in.Name != "" {
		existing.Name = in.Name
	}
	if in.Kind != "" {
		existing.Kind = in.Kind
	}
	if in.ModelID != "" {
		existing.ModelID = in.ModelID
	}
	if in.VendorID != 0 {
		existing.VendorID = in.VendorID
	}
	if in.ProductID != 0 {
		existing.ProductID = in.ProductID
	}
	if in.RSSI != 0 {
		existing.RSSI = in.RSSI
	}
	if in.LastSeen.IsZero() {
		existing.LastSeen = time.Now()
	} else {
		existing.LastSeen = in.LastSeen
	}

	out := *existing
	r.mu.Unlock()
	r.persist(out)
	return out
}

// Remove drops a device from memory after the vendor stack reports it
// gone. The persisted record stays; only Forget deletes durably.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()
}

// Forget removes a device from memory and from durable storage. This
// is the explicit user action.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()
	if r.store != nil {
		r.store.Forget(id)
	}
}

// Find returns a copy of the device, if known.
func (r *Registry) Find(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// List returns all known devices sorted by id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkConnected flags a device as the live session and stamps
// LastConnected.
func (r *Registry) MarkConnected(id string) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		d = &Device{ID: id, LastSeen: time.Now()}
		r.devices[id] = d
	}
	d.Connected = true
	d.LastConnected = time.Now()
	out := *d
	r.mu.Unlock()
	r.persist(out)
}

// MarkDisconnected clears the live-session flag.
func (r *Registry) MarkDisconnected(id string) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	d.Connected = false
	out := *d
	r.mu.Unlock()
	r.persist(out)
}

func (r *Registry) persist(d Device) {
	if r.store != nil {
		r.store.Save(d)
	}
}
