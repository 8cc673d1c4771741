// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// ledgerctl is a diagnostic CLI for the Ledger integration: list and
// scan for devices, derive accounts, verify the open app and sign a
// transaction file end to end.
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/xarmian/voi-wallet-sub004/internal/config"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/algorand"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/connection"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/discovery"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/health"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/registry"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/transport"
	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

func main() {
	dataDir := flag.String("d", "", "Data directory (or set VOIWALLET_DATA)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	resolvedDataDir := util.DataDir(*dataDir)
	cfg, err := config.Load(resolvedDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	app := newApp(cfg, resolvedDataDir)
	defer app.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "devices":
		err = app.cmdDevices(ctx, args[1:])
	case "derive":
		err = app.cmdDerive(ctx, args[1:])
	case "verify":
		err = app.cmdVerify(ctx, args[1:])
	case "sign":
		err = app.cmdSign(ctx, args[1:])
	case "watch":
		err = app.cmdWatch(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledgerctl [-d dir] <command> [options]

Commands:
  devices                       List known devices and scan for new ones
  derive  -index N [options]    Derive an account from the connected device
  verify  [-require]            Check which app is open on the device
  sign    -txn FILE -index N    Sign an unsigned transaction file
  watch                         Stream connection and discovery events

Common options:
  -d string   Data directory (default: VOIWALLET_DATA or ~/.voiwallet)
`)
}

// app wires the full device stack for one CLI invocation.
type app struct {
	cfg     config.Config
	dataDir string
	store   *registry.Store
	reg     *registry.Registry
	disc    *discovery.Service
	mgr     *connection.Manager
	signer  *algorand.Service
}

func newApp(cfg config.Config, dataDir string) *app {
	store := registry.NewStore(dataDir, cfg.Store.ThrottleWindow.Std())
	reg := registry.New(store)
	if _, err := reg.LoadPersisted(); err != nil {
		util.Logger.Warn("could not load persisted devices", "err", err)
	}

	disc := discovery.NewService(reg, discovery.NewUSBScanner(), discovery.NewBLEScanner())
	mgr := connection.NewManager(connection.Config{
		RetryDelay:       cfg.Connection.RetryDelay.Std(),
		CancelCooldown:   cfg.Connection.CancelCooldown.Std(),
		DiscoveryTimeout: cfg.Connection.DiscoveryTimeout.Std(),
		WaitTimeout:      cfg.Connection.WaitTimeout.Std(),
	}, reg, disc, transport.USBOpener{}, &transport.BLEOpener{})

	return &app{
		cfg:     cfg,
		dataDir: dataDir,
		store:   store,
		reg:     reg,
		disc:    disc,
		mgr:     mgr,
		signer:  algorand.NewService(mgr),
	}
}

func (a *app) shutdown() {
	a.mgr.Disconnect()
	a.store.Flush()
}

// connect resolves the target device and brings up a ready session.
// With no -device flag the sole known device is used.
func (a *app) connect(ctx context.Context, deviceID string, kind string) error {
	if deviceID == "" {
		devices := a.reg.List()
		switch len(devices) {
		case 0:
			return fmt.Errorf("no known devices; run 'ledgerctl devices' first")
		case 1:
			deviceID = devices[0].ID
		default:
			return fmt.Errorf("%d known devices; pick one with -device", len(devices))
		}
	}

	opts := connection.Options{Kind: transport.Kind(kind)}
	fmt.Fprintf(os.Stderr, "Connecting to %s...\n", deviceID)
	if _, err := a.mgr.Connect(ctx, deviceID, opts); err != nil {
		return err
	}
	return nil
}

func (a *app) cmdDevices(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	scanWindow := fs.Duration("scan", 5*time.Second, "How long to scan for live devices (0 disables)")
	forget := fs.String("forget", "", "Forget the given device id and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *forget != "" {
		a.reg.Forget(*forget)
		fmt.Printf("Forgot device %s\n", *forget)
		return nil
	}

	if *scanWindow > 0 {
		for _, kind := range []transport.Kind{transport.KindUSB, transport.KindBLE} {
			if err := a.disc.Acquire(kind); err != nil {
				util.Logger.Warn("scan unavailable", "kind", kind, "err", err)
				continue
			}
			defer a.disc.Release(kind)
		}
		fmt.Fprintf(os.Stderr, "Scanning for %s...\n", *scanWindow)
		select {
		case <-time.After(*scanWindow):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	devices := a.reg.List()
	if len(devices) == 0 {
		fmt.Println("No devices known.")
		return nil
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].LastSeen.After(devices[j].LastSeen) })
	fmt.Printf("%-20s %-16s %-5s %-10s %s\n", "ID", "NAME", "KIND", "LAST SEEN", "CONNECTED")
	for _, d := range devices {
		lastSeen := "never"
		if !d.LastSeen.IsZero() {
			lastSeen = d.LastSeen.Format("15:04:05")
		}
		fmt.Printf("%-20s %-16s %-5s %-10s %v\n", d.ID, d.Name, d.Kind, lastSeen, d.Connected)
	}
	return nil
}

func (a *app) cmdDerive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	index := fs.Int64("index", 0, "Account index (m/44'/283'/<index>'/0/0)")
	count := fs.Int("count", 1, "Number of sequential accounts to derive")
	display := fs.Bool("display", false, "Show the first address on the device for confirmation")
	deviceID := fs.String("device", "", "Device id (optional when only one device is known)")
	kind := fs.String("transport", "", "Transport kind: usb or ble (default: registry record)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.connect(ctx, *deviceID, *kind); err != nil {
		return err
	}

	accounts, err := a.signer.DeriveAccounts(ctx, *index, *count, *display)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		fmt.Printf("%s  %s\n", acct.DerivationPath, acct.Address.String())
	}
	return nil
}

func (a *app) cmdVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	require := fs.Bool("require", false, "Fail unless the Algorand app is open")
	deviceID := fs.String("device", "", "Device id (optional when only one device is known)")
	kind := fs.String("transport", "", "Transport kind: usb or ble (default: registry record)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.connect(ctx, *deviceID, *kind); err != nil {
		return err
	}

	info, err := a.signer.VerifyApp(ctx, algorand.VerifyOptions{RequireAppOpen: *require})
	if err != nil {
		return err
	}
	fmt.Printf("App:     %s\nVersion: %s\nFlags:   0x%04x\n", info.Name, info.Version, info.Flags)
	return nil
}

func (a *app) cmdSign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	txnFile := fs.String("txn", "", "File holding the unsigned transaction (msgpack)")
	index := fs.Int64("index", 0, "Account index to sign with")
	signer := fs.String("signer", "", "Signer address when distinct from the sender (rekeyed account)")
	out := fs.String("out", "", "Write signed transaction bytes to this file (default: stdout, base64)")
	deviceID := fs.String("device", "", "Device id (optional when only one device is known)")
	kind := fs.String("transport", "", "Transport kind: usb or ble (default: registry record)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *txnFile == "" {
		return fmt.Errorf("-txn is required")
	}

	txnBytes, err := os.ReadFile(*txnFile)
	if err != nil {
		return fmt.Errorf("reading transaction: %w", err)
	}

	if err := a.connect(ctx, *deviceID, *kind); err != nil {
		return err
	}

	if _, err := a.signer.VerifyApp(ctx, algorand.VerifyOptions{RequireAppOpen: true}); err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Confirm the transaction on the device...")
	result, err := a.signer.SignTransaction(ctx, algorand.SigningRequest{
		TransactionBytes: txnBytes,
		DerivationIndex:  *index,
		SignerAddress:    *signer,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Transaction ID: %s\n", result.TransactionID)
	fmt.Printf("Signature:      %s\n", hex.EncodeToString(result.Signature))
	if *out != "" {
		if err := os.WriteFile(*out, result.SignedTransactionBytes, 0o600); err != nil {
			return fmt.Errorf("writing signed transaction: %w", err)
		}
		fmt.Printf("Signed bytes written to %s\n", *out)
	} else {
		fmt.Printf("Signed (b64):   %s\n", base64.StdEncoding.EncodeToString(result.SignedTransactionBytes))
	}
	return nil
}

// cmdWatch streams discovery events, connection state changes and the
// health monitor's view until interrupted. Config edits are picked up
// live for the monitor's probe interval.
func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	deviceID := fs.String("device", "", "Connect to this device while watching")
	kind := fs.String("transport", "", "Transport kind: usb or ble")
	if err := fs.Parse(args); err != nil {
		return err
	}

	for _, k := range []transport.Kind{transport.KindUSB, transport.KindBLE} {
		if err := a.disc.Acquire(k); err != nil {
			util.Logger.Warn("scan unavailable", "kind", k, "err", err)
			continue
		}
		defer a.disc.Release(k)
	}

	events, cancelEvents := a.disc.Subscribe()
	defer cancelEvents()
	states, cancelStates := a.mgr.SubscribeState()
	defer cancelStates()

	monitor := health.NewMonitor(health.Config{
		Interval:     a.cfg.Health.Interval.Std(),
		ProbeTimeout: a.cfg.Health.ProbeTimeout.Std(),
	}, a.mgr)
	go monitor.Run(ctx)

	if path := config.Path(a.dataDir); path != "" {
		err := config.Watch(ctx, path, func(updated config.Config) {
			util.Logger.Info("config change applies on next run", "health_interval", updated.Health.Interval.Std())
		})
		if err != nil {
			util.Logger.Warn("config watch unavailable", "err", err)
		}
	}

	if *deviceID != "" {
		go func() {
			if err := a.connect(ctx, *deviceID, *kind); err != nil {
				util.Logger.Warn("connect failed", "device", *deviceID, "err", err)
			}
		}()
	}

	fmt.Fprintln(os.Stderr, "Watching (Ctrl-C to stop)...")
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Printf("%s  %-10s %s %q rssi=%d\n",
				time.Now().Format("15:04:05"), ev.Type, ev.Device.ID, ev.Device.Name, ev.Device.RSSI)
		case st, ok := <-states:
			if !ok {
				return nil
			}
			fmt.Printf("%s  state %s -> %s device=%s\n",
				time.Now().Format("15:04:05"), st.From, st.To, st.DeviceID)
		case <-ctx.Done():
			return nil
		}
	}
}
