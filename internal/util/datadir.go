// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package util

import (
	"os"
	"path/filepath"
)

// DefaultDataDirName is the directory under the user home that holds
// wallet state (config, persisted device records).
const DefaultDataDirName = ".voiwallet"

// DataDir returns the data directory for the wallet.
// Resolution order: flag value > VOIWALLET_DATA env var > ~/.voiwallet
func DataDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envDir := os.Getenv("VOIWALLET_DATA"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DefaultDataDirName)
}
