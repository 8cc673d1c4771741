// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xarmian/voi-wallet-sub004/internal/util"
)

const watchDebounce = 500 * time.Millisecond

// Watch starts a file system watcher on the config file and invokes
// onChange with the freshly loaded config whenever it is rewritten.
// Reload errors are logged and the previous config stays in effect.
// The watcher stops when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace config files
	// by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					cfg, err := LoadFromPath(path)
					if err != nil {
						util.Logger.Warn("config reload failed", "path", path, "err", err)
						return
					}
					util.Logger.Info("config reloaded", "path", path)
					onChange(cfg)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				util.Logger.Warn("config watcher error", "err", err)
			}
		}
	}()

	return nil
}
