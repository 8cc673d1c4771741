// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package transport

import (
	"context"
	"sync"

	"github.com/zondax/hid"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/apdu"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

const (
	// VendorLedger is Ledger's USB vendor id.
	VendorLedger = 0x2c97
	// UsagePageLedger is the HID usage page Ledger devices report.
	UsagePageLedger = 0xffa0
)

// Product id high bytes of supported models, with the HID interface
// that carries APDUs.
var supportedProductID = map[uint8]int{
	0x10: 0, // Nano S
	0x40: 0, // Nano X
	0x50: 0, // Nano S Plus
	0x60: 0, // Stax
	0x70: 0, // Flex
}

// ModelName maps a product id to a human-readable model identifier.
func ModelName(productID uint16) string {
	switch uint8(productID >> 8) {
	case 0x10:
		return "nanoS"
	case 0x40:
		return "nanoX"
	case 0x50:
		return "nanoSP"
	case 0x60:
		return "stax"
	case 0x70:
		return "flex"
	default:
		return ""
	}
}

// IsLedgerDevice reports whether the HID descriptor belongs to a
// Ledger device exposing the APDU interface.
func IsLedgerDevice(d hid.DeviceInfo) bool {
	if d.VendorID != VendorLedger {
		return false
	}
	if d.UsagePage == UsagePageLedger {
		return true
	}
	// Workaround for stacks that report an empty usage page.
	iface, supported := supportedProductID[uint8(d.ProductID>>8)]
	return supported && iface == d.Interface
}

// EnumerateUSB lists connected Ledger HID devices.
func EnumerateUSB() []hid.DeviceInfo {
	var out []hid.DeviceInfo
	for _, d := range hid.Enumerate(0, 0) {
		if IsLedgerDevice(d) {
			out = append(out, d)
		}
	}
	return out
}

// USBOpener opens Ledger devices over USB HID. The device identifier
// is the platform HID path.
type USBOpener struct{}

func (USBOpener) Kind() Kind { return KindUSB }

func (USBOpener) Open(_ context.Context, deviceID string) (Transport, error) {
	for _, d := range EnumerateUSB() {
		if d.Path != deviceID {
			continue
		}
		device, err := d.Open()
		if err != nil {
			return nil, lederr.Wrap(lederr.ConnectionFailed, err)
		}
		t := &usbTransport{
			device: device,
			readCh: make(chan []byte, 8),
		}
		go t.readLoop()
		return t, nil
	}
	return nil, lederr.Newf(lederr.DeviceNotConnected, "no Ledger HID device at %q", deviceID)
}

// hidDevice is the slice of *hid.Device the transport uses;
// injectable in tests.
type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type usbTransport struct {
	device hidDevice
	readCh chan []byte

	mu           sync.Mutex
	closed       bool
	onDisconnect func(error)
}

func (t *usbTransport) Kind() Kind { return KindUSB }

func (t *usbTransport) OnDisconnect(fn func(error)) {
	t.mu.Lock()
	t.onDisconnect = fn
	t.mu.Unlock()
}

// readLoop pulls HID packets off the device until the read fails,
// which is how HID reports unplug.
func (t *usbTransport) readLoop() {
	defer close(t.readCh)
	for {
		buf := make([]byte, apdu.HIDPacketSize)
		n, err := t.device.Read(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			fn := t.onDisconnect
			t.mu.Unlock()
			if !closed && fn != nil {
				fn(lederr.Wrap(lederr.DeviceNotConnected, err))
			}
			return
		}
		select {
		case t.readCh <- buf[:n]:
		default:
			// No exchange in flight; drop stray packets so the loop
			// never wedges.
		}
	}
}

func (t *usbTransport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	packets, err := apdu.WrapHID(apdu.HIDChannel, command, apdu.HIDPacketSize)
	if err != nil {
		return nil, err
	}

	util.Debug("usb apdu out", "bytes", len(command))

	// A response that arrived after its exchange timed out is still
	// buffered; it must never be read as this exchange's reply.
	drainStale(t.readCh)

	for _, p := range packets {
		if err := t.writeFull(p); err != nil {
			return nil, lederr.Wrap(lederr.Communication, err)
		}
	}

	resp := apdu.NewHIDResponse(apdu.HIDChannel)
	for !resp.Complete() {
		select {
		case packet, ok := <-t.readCh:
			if !ok {
				return nil, lederr.New(lederr.DeviceNotConnected, "device read channel closed")
			}
			if err := resp.Add(packet); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, lederr.Wrap(lederr.Communication, ctx.Err())
		}
	}

	util.Debug("usb apdu in", "bytes", len(resp.Bytes()))
	return resp.Bytes(), nil
}

// writeFull keeps writing until the whole packet is on the wire; HID
// writes may be partial.
func (t *usbTransport) writeFull(packet []byte) error {
	written := 0
	for written < len(packet) {
		n, err := t.device.Write(packet[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func (t *usbTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.device.Close()
}
