// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package health probes the active device session so stale transports
// are noticed before the next signing attempt trips over them.
package health

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/apdu"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/connection"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

// Session is the slice of the connection manager the monitor needs.
type Session interface {
	State() connection.State
	ActiveTransport() (transport.Transport, error)
	Disconnect()
}

// Config tunes the probe loop.
type Config struct {
	// Interval between probes.
	Interval time.Duration
	// ProbeTimeout bounds one probe exchange.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the probe tunables used when the config file
// does not override them.
func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Second,
		ProbeTimeout: 3 * time.Second,
	}
}

// Monitor periodically sends a get-app-and-version probe on the ready
// transport. It never runs while a sign is in flight: the probe fires
// only from the Ready state, and Signing is a distinct state.
type Monitor struct {
	cfg     Config
	session Session
	log     *slog.Logger
}

func NewMonitor(cfg Config, session Session) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	return &Monitor{cfg: cfg, session: session, log: util.Logger}
}

// Run probes until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe sends one liveness check. Only failures that mean the device
// is genuinely gone tear the session down; anything else is a
// transient hiccup worth a log line at most.
func (m *Monitor) Probe(ctx context.Context) {
	if m.session.State() != connection.StateReady {
		return
	}
	tr, err := m.session.ActiveTransport()
	if err != nil {
		return
	}

	cmd, err := apdu.Command{Cla: apdu.ClaDashboard, Ins: apdu.InsGetAppAndVersion}.Bytes()
	if err != nil {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	if _, err := tr.Exchange(pctx, cmd); err != nil {
		if deviceGone(err) {
			m.log.Warn("health probe lost the device", "err", err)
			m.session.Disconnect()
			return
		}
		m.log.Debug("health probe failed, keeping session", "err", err)
	}
}

// deviceGone matches the small allowlist of failures meaning the
// device physically left, as opposed to a slow or busy one.
func deviceGone(err error) bool {
	if lederr.Is(err, lederr.DeviceNotConnected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{"disconnected", "no such device", "device not found", "invalid channel"} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
