// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package util

import (
	"log/slog"
	"os"
)

var Logger *slog.Logger

func init() {
	InitLogger()
}

// InitLogger initializes the global logger with appropriate log level
// Set VOIWALLET_DEBUG=1 environment variable to enable debug logging
func InitLogger() {
	level := slog.LevelInfo // Default: only show Info, Warn, Error

	if os.Getenv("VOIWALLET_DEBUG") != "" {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	Logger = slog.New(handler)
}

// Debug logs a debug message (only shown when VOIWALLET_DEBUG is set)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
