// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

// Package lederr normalizes raw transport and protocol failures from a
// Ledger device into a closed taxonomy. Each class carries retryability
// and optional user-facing guidance, so callers branch on the class
// instead of matching error strings.
package lederr

import (
	"errors"
	"fmt"
)

// Class identifies a normalized failure category.
type Class string

const (
	DeviceNotConnected Class = "device_not_connected"
	AppNotOpen         Class = "app_not_open"
	DeviceLocked       Class = "device_locked"
	UserRejected       Class = "user_rejected"
	InvalidRequest     Class = "invalid_request"
	Communication      Class = "communication_error"
	AppInfo            Class = "app_info_error"
	ConnectionFailed   Class = "connection_failed"
	PermissionDenied   Class = "permission_denied"
	Cancelled          Class = "cancelled"
	Unknown            Class = "unknown"
)

// retryableByClass marks classes the connection manager may retry
// automatically. User-driven outcomes (rejection, cancellation),
// malformed requests, and permission denials terminate immediately.
// AppNotOpen is deliberately non-retryable: retrying hammers the device
// while the user has the wrong app open; they must switch apps by hand.
var retryableByClass = map[Class]bool{
	DeviceNotConnected: true,
	DeviceLocked:       true,
	Communication:      true,
	ConnectionFailed:   true,
}

// guidanceByClass carries default user-facing guidance per class.
var guidanceByClass = map[Class]string{
	DeviceNotConnected: "Connect your Ledger device and unlock it.",
	AppNotOpen:         "Open the Algorand app on your Ledger device.",
	DeviceLocked:       "Unlock your Ledger device with its PIN.",
	UserRejected:       "The request was rejected on the device.",
	InvalidRequest:     "The request is malformed and cannot be signed.",
	Communication:      "Communication with the device failed. Try again.",
	AppInfo:            "The device returned an unreadable app response.",
	ConnectionFailed:   "Could not connect to the device. Move it closer or replug it.",
	PermissionDenied:   "Grant Bluetooth/USB permission to the wallet and retry.",
	Cancelled:          "The connection attempt was cancelled.",
}

// Error is a classified device failure.
type Error struct {
	Class    Class
	Guidance string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return string(e.Class)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the connection manager may retry after
// this error.
func (e *Error) Retryable() bool {
	return retryableByClass[e.Class]
}

// New creates a classified error with a message.
func New(class Class, msg string) *Error {
	var err error
	if msg != "" {
		err = errors.New(msg)
	}
	return &Error{Class: class, Guidance: guidanceByClass[class], Err: err}
}

// Newf creates a classified error with a formatted message.
func Newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Guidance: guidanceByClass[class], Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an underlying error. An already-classified error
// keeps its original class so normalization happens exactly once.
func Wrap(class Class, err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return &Error{Class: class, Guidance: guidanceByClass[class], Err: err}
}

// ClassOf extracts the class from an error chain, Unknown if none.
func ClassOf(err error) Class {
	var le *Error
	if errors.As(err, &le) {
		return le.Class
	}
	return Unknown
}

// Is reports whether err carries the given class.
func Is(err error, class Class) bool {
	return ClassOf(err) == class
}

// Retryable reports whether the error chain permits an automatic retry.
// Unclassified errors are treated as non-retryable.
func Retryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable()
	}
	return false
}

// Ledger status words that map onto the taxonomy.
// Conditions-of-use-not-satisfied means the user rejected the request
// on-device; security-status-not-satisfied means the device is locked.
const (
	swConditionsNotSatisfied = 0x6985
	swSecurityNotSatisfied   = 0x6982
	swDeviceLockedScreen     = 0x5515
	swInsNotSupported        = 0x6d00
	swClaNotSupported        = 0x6e00
)

// FromStatusWord maps a non-success APDU status word to a classified
// error.
func FromStatusWord(sw uint16) *Error {
	switch sw {
	case swConditionsNotSatisfied:
		return Newf(UserRejected, "status word 0x%04x (conditions of use not satisfied)", sw)
	case swSecurityNotSatisfied, swDeviceLockedScreen:
		return Newf(DeviceLocked, "status word 0x%04x (security status not satisfied)", sw)
	case swInsNotSupported, swClaNotSupported:
		return Newf(AppNotOpen, "status word 0x%04x (instruction not supported by the open app)", sw)
	default:
		return Newf(Unknown, "status word 0x%04x", sw)
	}
}
