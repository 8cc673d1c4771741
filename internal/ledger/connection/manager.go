// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package connection owns the single live transport to a Ledger
// device. It serializes connection attempts, retries with a fixed
// delay until cancelled, coalesces concurrent callers onto one
// physical attempt, and attaches disconnect handling.
package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/discovery"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/registry"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

// Config tunes the retry loop.
type Config struct {
	// RetryDelay is the fixed wait between failed open attempts.
	RetryDelay time.Duration
	// CancelCooldown must elapse after a cancelled attempt before a
	// new one starts; connecting immediately after a cancel leaves
	// some radio stacks in an unstable state.
	CancelCooldown time.Duration
	// DiscoveryTimeout bounds one wait for the device to appear in a
	// scan; on expiry the retry loop goes around again.
	DiscoveryTimeout time.Duration
	// WaitTimeout bounds how long a caller waits on another caller's
	// in-flight attempt.
	WaitTimeout time.Duration
}

// DefaultConfig returns the retry tunables used when the config file
// does not override them.
func DefaultConfig() Config {
	return Config{
		RetryDelay:       2 * time.Second,
		CancelCooldown:   2 * time.Second,
		DiscoveryTimeout: 30 * time.Second,
		WaitTimeout:      30 * time.Second,
	}
}

// Options shapes one Connect call.
type Options struct {
	// Kind selects the transport. Empty falls back to the registry
	// record, then USB.
	Kind transport.Kind
	// Timeout overrides Config.WaitTimeout for this caller.
	Timeout time.Duration
	// ForceReconnect closes an existing transport to the same device
	// instead of reusing it.
	ForceReconnect bool
}

// attempt is the ephemeral record of one in-flight connection attempt.
// Waiters block on done and read tr/err afterwards.
type attempt struct {
	deviceID string
	done     chan struct{}
	tr       transport.Transport
	err      error
	cancel   context.CancelFunc
}

// Manager is the connection state machine. It is the sole owner of the
// open transport and the only entity permitted to close it.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	reg     *registry.Registry
	disc    *discovery.Service
	openers map[transport.Kind]transport.Opener

	mu         sync.Mutex
	state      State
	tr         transport.Transport
	activeID   string
	lastID     string
	inflight   *attempt
	lastCancel time.Time
	subs       map[int]chan StateChange
	nextSub    int
}

// NewManager creates a connection manager over the given openers.
func NewManager(cfg Config, reg *registry.Registry, disc *discovery.Service, openers ...transport.Opener) *Manager {
	def := DefaultConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.CancelCooldown <= 0 {
		cfg.CancelCooldown = def.CancelCooldown
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = def.DiscoveryTimeout
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}

	m := &Manager{
		cfg:     cfg,
		log:     util.Logger,
		reg:     reg,
		disc:    disc,
		openers: make(map[transport.Kind]transport.Opener, len(openers)),
		subs:    make(map[int]chan StateChange),
	}
	for _, o := range openers {
		m.openers[o.Kind()] = o
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveDevice returns the id of the connected device, empty if none.
func (m *Manager) ActiveDevice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// SubscribeState registers a state-change channel; the cancel func
// must be called to avoid leaks across reconnects.
func (m *Manager) SubscribeState() (<-chan StateChange, func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan StateChange, 16)
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) setStateLocked(to State, deviceID string) {
	if m.state == to {
		return
	}
	change := StateChange{From: m.state, To: to, DeviceID: deviceID}
	m.state = to
	for _, sub := range m.subs {
		select {
		case sub <- change:
		default:
		}
	}
}

func (m *Manager) setState(to State, deviceID string) {
	m.mu.Lock()
	m.setStateLocked(to, deviceID)
	m.mu.Unlock()
}

// Connect ensures a ready transport to deviceID. Reconnecting to the
// already-connected device without ForceReconnect reuses the existing
// transport. If another caller's attempt is in flight, this caller
// waits for its outcome (bounded) instead of starting a duplicate.
// Otherwise the manager retries indefinitely with a fixed delay until
// cancelled or a non-retryable error occurs.
func (m *Manager) Connect(ctx context.Context, deviceID string, opts Options) (transport.Transport, error) {
	if deviceID == "" {
		return nil, lederr.New(lederr.InvalidRequest, "empty device id")
	}

	for {
		m.mu.Lock()

		if m.tr != nil && m.activeID == deviceID && !opts.ForceReconnect {
			tr := m.tr
			m.mu.Unlock()
			return tr, nil
		}

		if in := m.inflight; in != nil {
			m.mu.Unlock()
			if err := m.waitForAttempt(ctx, in, opts); err != nil {
				return nil, err
			}
			if in.err == nil && in.deviceID == deviceID && !opts.ForceReconnect {
				return in.tr, nil
			}
			// The in-flight attempt was for another device or failed;
			// go around and try to own an attempt.
			continue
		}

		// A transport for a different device (or a forced reconnect)
		// is closed before a new attempt starts.
		if m.tr != nil {
			old, oldID := m.tr, m.activeID
			m.tr = nil
			m.activeID = ""
			m.mu.Unlock()
			m.closeTransport(old, oldID)
			continue
		}

		cooldown := m.cooldownLocked()

		actx, cancel := context.WithCancel(ctx)
		att := &attempt{deviceID: deviceID, done: make(chan struct{}), cancel: cancel}
		m.inflight = att
		m.setStateLocked(StateDiscovering, deviceID)
		m.mu.Unlock()

		tr, err := m.runAttempt(actx, deviceID, opts, cooldown)
		cancel()

		m.mu.Lock()
		m.inflight = nil
		if err == nil {
			m.tr = tr
			m.activeID = deviceID
			m.lastID = deviceID
			m.setStateLocked(StateReady, deviceID)
		} else if lederr.Is(err, lederr.Cancelled) {
			m.lastCancel = time.Now()
			m.setStateLocked(StateDisconnected, "")
		} else {
			m.setStateLocked(StateError, deviceID)
		}
		att.tr, att.err = tr, err
		close(att.done)
		m.mu.Unlock()

		return tr, err
	}
}

// waitForAttempt blocks until another caller's attempt settles.
func (m *Manager) waitForAttempt(ctx context.Context, in *attempt, opts Options) error {
	wait := opts.Timeout
	if wait <= 0 {
		wait = m.cfg.WaitTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-in.done:
		return nil
	case <-timer.C:
		return lederr.New(lederr.ConnectionFailed, "timed out waiting for in-flight connection attempt")
	case <-ctx.Done():
		return lederr.Wrap(lederr.Cancelled, ctx.Err())
	}
}

// cooldownLocked computes how long the next attempt must wait out the
// post-cancel cooldown.
func (m *Manager) cooldownLocked() time.Duration {
	if m.lastCancel.IsZero() {
		return 0
	}
	remaining := m.cfg.CancelCooldown - time.Since(m.lastCancel)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// runAttempt is the retry loop: wait for the device in a scan, open,
// back off on retryable failure, forever until cancelled or a
// non-retryable error.
func (m *Manager) runAttempt(ctx context.Context, deviceID string, opts Options, cooldown time.Duration) (transport.Transport, error) {
	if cooldown > 0 {
		m.log.Debug("cooling down after cancelled attempt", "wait", cooldown)
		if err := sleepCtx(ctx, cooldown); err != nil {
			return nil, cancelledErr()
		}
	}

	kind := m.resolveKind(deviceID, opts)
	opener, ok := m.openers[kind]
	if !ok {
		return nil, lederr.Newf(lederr.InvalidRequest, "no opener for transport kind %q", kind)
	}

	if err := m.disc.Acquire(kind); err != nil {
		return nil, err
	}
	defer m.disc.Release(kind)

	events, unsubscribe := m.disc.Subscribe()
	defer unsubscribe()

	for attemptNum := 1; ; attemptNum++ {
		if ctx.Err() != nil {
			return nil, cancelledErr()
		}

		if err := m.waitForDevice(ctx, events, deviceID); err != nil {
			if lederr.Is(err, lederr.Cancelled) {
				return nil, cancelledErr()
			}
			// Discovery timeout: the device may still show up; keep
			// looping.
			m.log.Debug("device not seen in scan window", "device", deviceID, "attempt", attemptNum)
			continue
		}

		m.setState(StateConnecting, deviceID)

		tr, err := opener.Open(ctx, deviceID)
		if err == nil {
			if ctx.Err() != nil {
				// Opened after cancellation was requested: never leave
				// it dangling.
				_ = tr.Close()
				return nil, cancelledErr()
			}
			m.attachDisconnect(tr, deviceID)
			m.reg.MarkConnected(deviceID)
			m.log.Info("device connected", "device", deviceID, "kind", kind, "attempt", attemptNum)
			return tr, nil
		}

		if !lederr.Retryable(err) {
			m.log.Warn("connection attempt aborted", "device", deviceID, "err", err)
			return nil, err
		}

		m.log.Debug("open failed, retrying", "device", deviceID, "attempt", attemptNum, "err", err)
		if err := sleepCtx(ctx, m.cfg.RetryDelay); err != nil {
			return nil, cancelledErr()
		}
		m.setState(StateDiscovering, deviceID)
	}
}

func cancelledErr() error {
	return lederr.New(lederr.Cancelled, "connection attempt cancelled")
}

// resolveKind picks the transport kind for a device: explicit option,
// then the registry record, then USB.
func (m *Manager) resolveKind(deviceID string, opts Options) transport.Kind {
	if opts.Kind != "" {
		return opts.Kind
	}
	if d, ok := m.reg.Find(deviceID); ok && d.Kind != "" {
		return d.Kind
	}
	return transport.KindUSB
}

// waitForDevice blocks until the device is visible, via the registry
// for devices already in sight and via discovery events otherwise.
func (m *Manager) waitForDevice(ctx context.Context, events <-chan discovery.Event, deviceID string) error {
	if _, ok := m.reg.Find(deviceID); ok {
		return nil
	}

	timer := time.NewTimer(m.cfg.DiscoveryTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return lederr.New(lederr.Cancelled, "discovery subscription closed")
			}
			if ev.Device.ID == deviceID && ev.Type != discovery.DeviceRemoved {
				return nil
			}
		case <-timer.C:
			return lederr.New(lederr.DeviceNotConnected, "device did not appear in scan window")
		case <-ctx.Done():
			return lederr.Wrap(lederr.Cancelled, ctx.Err())
		}
	}
}

// CancelConnect requests cooperative cancellation of the in-flight
// attempt. The loop observes it at its next check or blocking wait and
// terminates with a distinct cancelled error.
func (m *Manager) CancelConnect() {
	m.mu.Lock()
	in := m.inflight
	m.lastCancel = time.Now()
	m.mu.Unlock()

	if in != nil {
		in.cancel()
		m.log.Info("connection attempt cancelled", "device", in.deviceID)
	}
}

// Disconnect closes the active transport, clears active-device state
// and marks the device disconnected. Close failures are logged, never
// surfaced.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	tr, id := m.tr, m.activeID
	m.tr = nil
	m.activeID = ""
	m.setStateLocked(StateDisconnected, "")
	m.mu.Unlock()

	if tr != nil {
		m.closeTransport(tr, id)
	}
}

func (m *Manager) closeTransport(tr transport.Transport, deviceID string) {
	tr.OnDisconnect(nil)
	if err := tr.Close(); err != nil {
		m.log.Warn("transport close failed", "device", deviceID, "err", err)
	}
	if deviceID != "" {
		m.reg.MarkDisconnected(deviceID)
	}
}

// Reconnect tears the current session down and reconnects to the same
// device.
func (m *Manager) Reconnect(ctx context.Context) (transport.Transport, error) {
	m.mu.Lock()
	id := m.activeID
	if id == "" {
		id = m.lastID
	}
	m.mu.Unlock()

	if id == "" {
		return nil, lederr.New(lederr.InvalidRequest, "no device to reconnect to")
	}

	m.Disconnect()
	return m.Connect(ctx, id, Options{ForceReconnect: true})
}

// SwitchDevice disconnects from the current device and connects to
// another.
func (m *Manager) SwitchDevice(ctx context.Context, deviceID string, opts Options) (transport.Transport, error) {
	m.Disconnect()
	return m.Connect(ctx, deviceID, opts)
}

// attachDisconnect wires unsolicited link drops back into the state
// machine. A handler for a transport the manager no longer owns is a
// stale callback and ignored.
func (m *Manager) attachDisconnect(tr transport.Transport, deviceID string) {
	tr.OnDisconnect(func(cause error) {
		m.mu.Lock()
		if m.tr != tr {
			m.mu.Unlock()
			return
		}
		m.tr = nil
		m.activeID = ""
		m.setStateLocked(StateDisconnected, "")
		m.mu.Unlock()

		m.reg.MarkDisconnected(deviceID)
		m.log.Info("device disconnected", "device", deviceID, "cause", cause)
	})
}

// ActiveTransport returns the open transport when the manager is Ready.
func (m *Manager) ActiveTransport() (transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.tr == nil {
		return nil, lederr.Newf(lederr.DeviceNotConnected, "no ready device session (state %s)", m.state)
	}
	return m.tr, nil
}

// BeginSigning transitions Ready -> Signing and hands out the
// transport for the duration of one signing operation. Nothing else
// may transition state while Signing is active; EndSigning must run on
// every exit path.
func (m *Manager) BeginSigning() (transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.tr == nil {
		return nil, lederr.Newf(lederr.DeviceNotConnected, "cannot sign in state %s", m.state)
	}
	m.setStateLocked(StateSigning, m.activeID)
	return m.tr, nil
}

// EndSigning returns to Ready. If the device vanished mid-signing the
// disconnect handler already moved the machine on; that is preserved.
func (m *Manager) EndSigning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSigning {
		m.setStateLocked(StateReady, m.activeID)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
