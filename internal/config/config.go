// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package config holds the wallet's hardware-wallet tunables.
//
// The config file lives at <dataDir>/config.yaml. A missing file is not
// an error: defaults apply. Durations are written in Go duration syntax
// ("2s", "1500ms").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration with YAML support in Go duration syntax.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ConnectionConfig tunes the connection manager's retry loop.
type ConnectionConfig struct {
	RetryDelay       Duration `yaml:"retry_delay" description:"Delay between transport open attempts"`
	CancelCooldown   Duration `yaml:"cancel_cooldown" description:"Cooldown after a cancelled attempt before a new one may start"`
	DiscoveryTimeout Duration `yaml:"discovery_timeout" description:"How long to wait for the device to appear in a scan"`
	WaitTimeout      Duration `yaml:"wait_timeout" description:"How long a caller waits on another caller's in-flight attempt"`
}

// HealthConfig tunes the liveness monitor.
type HealthConfig struct {
	Interval     Duration `yaml:"interval" description:"Probe interval"`
	ProbeTimeout Duration `yaml:"probe_timeout" description:"Per-probe timeout"`
}

// StoreConfig tunes device-metadata persistence.
type StoreConfig struct {
	ThrottleWindow Duration `yaml:"throttle_window" description:"Coalescing window for device record writes"`
}

// Config holds hardware-wallet settings.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Health     HealthConfig     `yaml:"health"`
	Store      StoreConfig      `yaml:"store"`
}

// Default returns the default configuration for runtime use.
func Default() Config {
	return Config{
		Connection: ConnectionConfig{
			RetryDelay:       Duration(2 * time.Second),
			CancelCooldown:   Duration(2 * time.Second),
			DiscoveryTimeout: Duration(30 * time.Second),
			WaitTimeout:      Duration(30 * time.Second),
		},
		Health: HealthConfig{
			Interval:     Duration(15 * time.Second),
			ProbeTimeout: Duration(3 * time.Second),
		},
		Store: StoreConfig{
			ThrottleWindow: Duration(2 * time.Second),
		},
	}
}

// Path returns the config file path inside the data directory.
// Returns empty string if dataDir is empty.
func Path(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "config.yaml")
}

// Load loads configuration from config.yaml in the data directory.
// If dataDir is empty or the file does not exist, defaults are returned.
func Load(dataDir string) (Config, error) {
	return LoadFromPath(Path(dataDir))
}

// LoadFromPath loads configuration from an explicit file path.
// A missing file yields the default config with no error.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	// Zero durations mean "not set" and fall back to defaults, so a
	// partial config file stays valid.
	def := Default()
	if cfg.Connection.RetryDelay == 0 {
		cfg.Connection.RetryDelay = def.Connection.RetryDelay
	}
	if cfg.Connection.CancelCooldown == 0 {
		cfg.Connection.CancelCooldown = def.Connection.CancelCooldown
	}
	if cfg.Connection.DiscoveryTimeout == 0 {
		cfg.Connection.DiscoveryTimeout = def.Connection.DiscoveryTimeout
	}
	if cfg.Connection.WaitTimeout == 0 {
		cfg.Connection.WaitTimeout = def.Connection.WaitTimeout
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = def.Health.Interval
	}
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = def.Health.ProbeTimeout
	}
	if cfg.Store.ThrottleWindow == 0 {
		cfg.Store.ThrottleWindow = def.Store.ThrottleWindow
	}

	return cfg, nil
}
