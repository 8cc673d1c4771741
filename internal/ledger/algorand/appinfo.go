// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package algorand

import (
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/apdu"
	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

const (
	// ExpectedAppName is the application the device must be running
	// for signing to proceed.
	ExpectedAppName = "Algorand"

	// MinAppVersion is the oldest app release known to handle our
	// sign payloads. Older versions trigger a warning, not a failure.
	MinAppVersion = "1.2.15"

	// defaultAppVersion stands in when the device omits the version
	// field from its get-app-and-version response.
	defaultAppVersion = "0.0.0"
)

// AppInfo is the device's report of the currently open application.
// Transient: parsed per probe, never persisted.
type AppInfo struct {
	Name    string
	Version string
	Flags   uint16
}

// parseAppInfo decodes a get-app-and-version response:
//
//	[format][nameLen][name...][verLen][version...][flags(1-2)][status(2)?]
//
// Everything after the name is optional. Devices and firmware
// revisions truncate the trailing fields, so a missing version falls
// back to defaultAppVersion and missing flags to zero rather than
// rejecting the response.
func parseAppInfo(resp []byte) (AppInfo, error) {
	data := apdu.TrimStatus(resp)

	if len(data) < 2 {
		return AppInfo{}, lederr.Newf(lederr.AppInfo, "app info response too short (%d bytes)", len(data))
	}
	data = data[1:] // format byte

	nameLen := int(data[0])
	data = data[1:]
	if nameLen == 0 || nameLen > len(data) {
		return AppInfo{}, lederr.Newf(lederr.AppInfo, "app name length %d exceeds %d remaining bytes", nameLen, len(data))
	}
	info := AppInfo{
		Name:    string(data[:nameLen]),
		Version: defaultAppVersion,
	}
	data = data[nameLen:]

	if len(data) > 0 {
		verLen := int(data[0])
		data = data[1:]
		if verLen > len(data) {
			verLen = len(data)
		}
		if verLen > 0 {
			info.Version = string(data[:verLen])
		}
		data = data[verLen:]
	}

	switch len(data) {
	case 0:
	case 1:
		info.Flags = uint16(data[0])
	default:
		info.Flags = uint16(data[0])<<8 | uint16(data[1])
	}

	return info, nil
}
