// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/apdu"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

// Ledger's BLE GATT layout. One service, a write characteristic for
// commands and a notify characteristic for responses.
const (
	LedgerServiceUUID    = "13d63400-2c97-0004-0000-4c6564676572"
	ledgerNotifyCharUUID = "13d63400-2c97-0004-0001-4c6564676572"
	ledgerWriteCharUUID  = "13d63400-2c97-0004-0002-4c6564676572"
)

const mtuHandshakeTimeout = 2 * time.Second

// BLEOpener opens Ledger devices over BlueZ. The device identifier is
// the Bluetooth address. An empty AdapterID selects the default
// adapter.
type BLEOpener struct {
	AdapterID string
}

func (*BLEOpener) Kind() Kind { return KindBLE }

func (o *BLEOpener) Open(ctx context.Context, deviceID string) (Transport, error) {
	a, err := getAdapter(o.AdapterID)
	if err != nil {
		return nil, err
	}

	dev, err := a.GetDeviceByAddress(deviceID)
	if err != nil {
		return nil, classifyBluez(err)
	}
	if dev == nil {
		return nil, lederr.Newf(lederr.DeviceNotConnected, "no BLE device at %q", deviceID)
	}

	if err := dev.Connect(); err != nil {
		return nil, classifyBluez(err)
	}

	writeChar, err := dev.GetCharByUUID(ledgerWriteCharUUID)
	if err != nil {
		_ = dev.Disconnect()
		return nil, lederr.Wrap(lederr.ConnectionFailed, err)
	}
	notifyChar, err := dev.GetCharByUUID(ledgerNotifyCharUUID)
	if err != nil {
		_ = dev.Disconnect()
		return nil, lederr.Wrap(lederr.ConnectionFailed, err)
	}

	if err := notifyChar.StartNotify(); err != nil {
		_ = dev.Disconnect()
		return nil, lederr.Wrap(lederr.ConnectionFailed, err)
	}

	notifCh, err := notifyChar.WatchProperties()
	if err != nil {
		_ = dev.Disconnect()
		return nil, lederr.Wrap(lederr.ConnectionFailed, err)
	}

	t := &bleTransport{
		dev:       dev,
		writeChar: writeChar,
		frames:    make(chan []byte, 16),
		frameSize: apdu.BLEDefaultFrameSize,
	}
	go t.notifyLoop(notifCh)
	go t.watchLink()

	t.negotiateMTU(ctx)

	return t, nil
}

func getAdapter(adapterID string) (*adapter.Adapter1, error) {
	var (
		a   *adapter.Adapter1
		err error
	)
	if adapterID == "" {
		a, err = adapter.GetDefaultAdapter()
	} else {
		a, err = adapter.GetAdapter(adapterID)
	}
	if err != nil {
		return nil, classifyBluez(err)
	}
	return a, nil
}

// classifyBluez maps BlueZ DBus failures onto the error taxonomy.
// Permission problems must surface as such, never as "device not
// found".
func classifyBluez(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NotAuthorized"),
		strings.Contains(msg, "AccessDenied"),
		strings.Contains(msg, "org.freedesktop.DBus.Error.AccessDenied"):
		return lederr.Wrap(lederr.PermissionDenied, err)
	case strings.Contains(msg, "NotReady"):
		return lederr.Wrap(lederr.ConnectionFailed, err)
	default:
		return lederr.Wrap(lederr.ConnectionFailed, err)
	}
}

// gattWriter is the slice of *gatt.GattCharacteristic1 the transport
// writes through; injectable in tests.
type gattWriter interface {
	WriteValue(value []byte, options map[string]interface{}) error
}

type bleTransport struct {
	dev       *device.Device1
	writeChar gattWriter
	frames    chan []byte
	frameSize int

	mu           sync.Mutex
	closed       bool
	onDisconnect func(error)
}

func (t *bleTransport) Kind() Kind { return KindBLE }

func (t *bleTransport) OnDisconnect(fn func(error)) {
	t.mu.Lock()
	t.onDisconnect = fn
	t.mu.Unlock()
}

// notifyLoop forwards GATT value notifications into the frame channel.
func (t *bleTransport) notifyLoop(ch chan *bluez.PropertyChanged) {
	for prop := range ch {
		if prop == nil || prop.Name != "Value" {
			continue
		}
		frame, ok := prop.Value.([]byte)
		if !ok {
			continue
		}
		select {
		case t.frames <- frame:
		default:
			// No exchange in flight; drop stray frames.
		}
	}
}

// watchLink observes the device's Connected property and reports an
// unplug/out-of-range drop.
func (t *bleTransport) watchLink() {
	ch, err := t.dev.WatchProperties()
	if err != nil {
		util.Logger.Warn("ble: cannot watch device properties", "err", err)
		return
	}
	for prop := range ch {
		if prop == nil || prop.Name != "Connected" {
			continue
		}
		if connected, ok := prop.Value.(bool); ok && !connected {
			t.mu.Lock()
			closed := t.closed
			fn := t.onDisconnect
			t.mu.Unlock()
			if !closed && fn != nil {
				fn(lederr.New(lederr.DeviceNotConnected, "BLE link dropped"))
			}
			return
		}
	}
}

// negotiateMTU asks the device for its usable frame size. Failure is
// tolerated: the default conservative size always works.
func (t *bleTransport) negotiateMTU(ctx context.Context) {
	if err := t.writeChar.WriteValue(apdu.MTURequestFrame, nil); err != nil {
		util.Debug("ble: mtu request failed, using default frame size", "err", err)
		return
	}

	timer := time.NewTimer(mtuHandshakeTimeout)
	defer timer.Stop()

	select {
	case frame := <-t.frames:
		if size := apdu.ParseMTUResponse(frame); size > 5 {
			t.frameSize = size
			util.Debug("ble: negotiated frame size", "size", size)
		}
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (t *bleTransport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	frames, err := apdu.WrapBLE(command, t.frameSize)
	if err != nil {
		return nil, err
	}

	util.Debug("ble apdu out", "bytes", len(command))

	// A response that arrived after its exchange timed out is still
	// buffered; it must never be read as this exchange's reply.
	drainStale(t.frames)

	for _, f := range frames {
		if err := t.writeChar.WriteValue(f, nil); err != nil {
			return nil, lederr.Wrap(lederr.Communication, err)
		}
	}

	var resp apdu.BLEResponse
	for !resp.Complete() {
		select {
		case frame, ok := <-t.frames:
			if !ok {
				return nil, lederr.New(lederr.DeviceNotConnected, "BLE notification stream closed")
			}
			if err := resp.Add(frame); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, lederr.Wrap(lederr.Communication, ctx.Err())
		}
	}

	util.Debug("ble apdu in", "bytes", len(resp.Bytes()))
	return resp.Bytes(), nil
}

func (t *bleTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.dev.Disconnect()
}
