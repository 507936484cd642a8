// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package filewait blocks until a path appears. Mounts frequently depend
// on asynchronously created device nodes, so the wait watches the parent
// directory instead of spinning, with a coarse poll as a safety net for
// events raced away before the watch was in place.
package filewait

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrTimeout is returned when the path did not appear in time.
var ErrTimeout = errors.New("timed out waiting for file")

const pollInterval = 100 * time.Millisecond

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WaitForFile blocks until path exists or the timeout elapses. A path
// that already exists returns immediately.
func WaitForFile(path string, timeout time.Duration) error {
	if exists(path) {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return poll(path, deadline.C)
	}
	defer watcher.Close()

	// The parent may not exist yet either; the poll fallback covers that.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return poll(path, deadline.C)
	}

	// The path may have appeared between the stat and the watch.
	if exists(path) {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return ErrTimeout
		case event, ok := <-watcher.Events:
			if !ok {
				return poll(path, deadline.C)
			}

			created := event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
			if created && event.Name == path && exists(path) {
				return nil
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return poll(path, deadline.C)
			}
		case <-ticker.C:
			if exists(path) {
				return nil
			}
		}
	}
}

func poll(path string, deadline <-chan time.Time) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return ErrTimeout
		case <-ticker.C:
			if exists(path) {
				return nil
			}
		}
	}
}
