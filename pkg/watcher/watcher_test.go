// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Start(ctx)
	return w
}

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for watcher event")
		return Event{}
	}
}

func TestWatcher_DetectsAdd(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "kitchen.json"), []byte(`{"template":"week"}`), 0o644))

	ev := waitForEvent(t, w, 3*time.Second)
	assert.Equal(t, OpAdd, ev.Op)
	assert.Equal(t, "kitchen", ev.Name)
}

func TestWatcher_DetectsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kitchen.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"template":"week"}`), 0o644))

	w := startWatcher(t, dir)

	// Pre-existing files are primed, not replayed.
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for pre-existing file: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"template":"month"}`), 0o644))
	ev := waitForEvent(t, w, 3*time.Second)
	assert.Equal(t, OpChange, ev.Op)
	assert.Equal(t, "kitchen", ev.Name)
}

func TestWatcher_DetectsDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kitchen.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"template":"week"}`), 0o644))

	w := startWatcher(t, dir)
	require.NoError(t, os.Remove(path))

	ev := waitForEvent(t, w, 3*time.Second)
	assert.Equal(t, OpDelete, ev.Op)
	assert.Equal(t, "kitchen", ev.Name)
}

// A burst of writes within the settle window yields exactly one event.
func TestWatcher_DebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	path := filepath.Join(dir, "kitchen.json")
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"template":"week"}`), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	ev := waitForEvent(t, w, 3*time.Second)
	assert.Equal(t, "kitchen", ev.Name)

	select {
	case extra := <-w.Events():
		t.Fatalf("write burst emitted more than one event: %+v", extra)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_IgnoresInvalidStems(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`x`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "con.json"), []byte(`{}`), 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("event for a name the sanitizer rejects: %+v", ev)
	case <-time.After(2500 * time.Millisecond):
	}
}

// Cancelling during a burst of native events must not wedge shutdown: the
// forwarding goroutine may be mid-send when the loop stops reading.
func TestWatcher_StopsCleanlyUnderEventLoad(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Start(ctx)
		close(done)
	}()

	stop := make(chan struct{})
	var writes sync.WaitGroup
	writes.Add(1)
	go func() {
		defer writes.Done()
		path := filepath.Join(dir, "kitchen.json")
		for {
			select {
			case <-stop:
				return
			default:
				_ = os.WriteFile(path, []byte(`{"template":"week"}`), 0o644)
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop while events were arriving")
	}

	close(stop)
	writes.Wait()
}

// The polling sweep alone must detect changes within its interval plus the
// settle window, covering filesystems without native notification.
func TestWatcher_SweepDetectsChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "added.json"), []byte(`{"template":"week"}`), 0o644))

	// Drive the sweep directly instead of running Start, isolating the
	// polling path from fsnotify.
	w.sweep()
	time.Sleep(SettleWindow + 50*time.Millisecond)

	// The settle timer queued the name; deliver it.
	select {
	case name := <-w.settled:
		w.emitSettled(name)
	case <-time.After(time.Second):
		t.Fatal("sweep did not mark the new file dirty")
	}

	ev := waitForEvent(t, w, time.Second)
	assert.Equal(t, OpAdd, ev.Op)
	assert.Equal(t, "added", ev.Name)
}
