// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherNotifiesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	if err := os.WriteFile(path, []byte("security: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher([]string{path}, WithWatchInterval(10*time.Millisecond))
	changed := make(chan struct{}, 1)
	w.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	w.Start(context.Background())
	defer w.Stop()

	// mtime granularity on some filesystems is one second.
	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("security: {updated: true}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not notice the change")
	}
}

func TestWatcherIgnoresMissingFiles(t *testing.T) {
	w := NewWatcher([]string{"/nonexistent/guardrails.yaml"},
		WithWatchInterval(10*time.Millisecond))
	notified := make(chan struct{}, 1)
	w.OnChange(func() { notified <- struct{}{} })
	w.Start(context.Background())
	defer w.Stop()

	select {
	case <-notified:
		t.Fatal("missing file must not trigger notifications")
	case <-time.After(100 * time.Millisecond):
	}
}
