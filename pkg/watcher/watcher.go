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

// Package watcher detects add/change/delete of configuration files.
//
// Detection is layered: fsnotify provides prompt native notification, and a
// 2-second polling sweep keyed on (mtime, size) per file catches
// environments where native notification is unreliable (bind mounts,
// network filesystems). Adds and changes are debounced with a write-settle
// window so a file being written emits exactly one event.
//
// Only files whose stem passes the name sanitizer are reported.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"calendar2image/pkg/naming"
)

// Op classifies a configuration file event.
type Op string

// The watcher's event operations.
const (
	OpAdd    Op = "add"
	OpChange Op = "change"
	OpDelete Op = "delete"
)

// Event reports one settled configuration file change.
type Event struct {
	Op   Op
	Name string
}

const (
	// PollInterval is the polling sweep period.
	PollInterval = 2 * time.Second

	// SettleWindow is the debounce window for in-progress writes. A burst
	// of write events within the window produces a single Event.
	SettleWindow = 150 * time.Millisecond

	// eventBufferSize bounds the outbound event channel.
	eventBufferSize = 64
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher is the single-threaded emitter of configuration change events.
// Create with New, run Start in a goroutine, consume Events().
type Watcher struct {
	dir    string
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	known   map[string]fileState
	pending map[string]*time.Timer
	settled chan string
	stopped bool
}

// New creates a watcher over the configuration directory. The directory is
// scanned immediately so pre-existing files do not replay as adds.
func New(dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		dir:     dir,
		logger:  logger.With("component", "config-watcher"),
		events:  make(chan Event, eventBufferSize),
		known:   make(map[string]fileState),
		pending: make(map[string]*time.Timer),
		settled: make(chan string, eventBufferSize),
	}

	states, err := w.scan()
	if err != nil {
		return nil, err
	}
	w.known = states
	return w, nil
}

// Events returns the channel of settled file events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start runs the watch loop until the context is cancelled.
//
// fsnotify failures degrade to polling-only operation rather than failing
// the service; the sweep alone satisfies detection within its interval.
func (w *Watcher) Start(ctx context.Context) error {
	var notifyCh chan fsnotify.Event

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("Native file notification unavailable, polling only", "error", err)
	} else {
		defer fsw.Close()
		if err := fsw.Add(w.dir); err != nil {
			w.logger.Warn("Cannot watch configuration directory natively, polling only",
				"dir", w.dir, "error", err)
		} else {
			notifyCh = make(chan fsnotify.Event)
			go func() {
				for {
					select {
					case ev, ok := <-fsw.Events:
						if !ok {
							return
						}
						// The send must stay cancellable: after Start
						// returns nobody reads notifyCh.
						select {
						case notifyCh <- ev:
						case <-ctx.Done():
							return
						}
					case err, ok := <-fsw.Errors:
						if !ok {
							return
						}
						w.logger.Warn("File notification error", "error", err)
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	w.logger.Info("Config watcher started", "dir", w.dir, "poll_interval", PollInterval)

	for {
		select {
		case <-ctx.Done():
			w.stop()
			w.logger.Info("Config watcher stopped", "reason", ctx.Err())
			return nil

		case ev := <-notifyCh:
			w.handleNotify(ev)

		case <-ticker.C:
			w.sweep()

		case name := <-w.settled:
			w.emitSettled(name)
		}
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for _, t := range w.pending {
		t.Stop()
	}
}

// nameFor extracts a sanitized configuration name from a path, or "".
func (w *Watcher) nameFor(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") {
		return ""
	}
	stem := strings.TrimSuffix(base, ".json")
	if !naming.IsValid(stem) {
		return ""
	}
	return stem
}

func (w *Watcher) handleNotify(ev fsnotify.Event) {
	name := w.nameFor(ev.Name)
	if name == "" {
		return
	}

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		w.markDirty(name)
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.markGone(name)
	}
}

// markDirty (re)arms the settle timer for a name. Repeated writes within
// the window collapse into one settled notification.
func (w *Watcher) markDirty(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if t, ok := w.pending[name]; ok {
		t.Reset(SettleWindow)
		return
	}
	w.pending[name] = time.AfterFunc(SettleWindow, func() {
		select {
		case w.settled <- name:
		default:
			w.logger.Warn("Settled-event queue full, dropping", "name", name)
		}
	})
}

func (w *Watcher) markGone(name string) {
	w.mu.Lock()
	if t, ok := w.pending[name]; ok {
		t.Stop()
		delete(w.pending, name)
	}
	_, existed := w.known[name]
	delete(w.known, name)
	w.mu.Unlock()

	if existed {
		w.emit(Event{Op: OpDelete, Name: name})
	}
}

// emitSettled stats the settled file and emits add or change based on
// whether the name was previously known.
func (w *Watcher) emitSettled(name string) {
	w.mu.Lock()
	delete(w.pending, name)
	w.mu.Unlock()

	info, err := os.Stat(filepath.Join(w.dir, name+".json"))
	if err != nil {
		// Deleted between settle and stat; the sweep or a Remove event
		// reports the delete.
		return
	}

	w.mu.Lock()
	_, existed := w.known[name]
	w.known[name] = fileState{modTime: info.ModTime(), size: info.Size()}
	w.mu.Unlock()

	op := OpAdd
	if existed {
		op = OpChange
	}
	w.emit(Event{Op: op, Name: name})
}

// sweep is the polling fallback: diff the directory against known state.
func (w *Watcher) sweep() {
	states, err := w.scan()
	if err != nil {
		w.logger.Warn("Polling sweep failed", "error", err)
		return
	}

	w.mu.Lock()
	var dirty, gone []string
	for name, st := range states {
		prev, ok := w.known[name]
		if !ok || !prev.modTime.Equal(st.modTime) || prev.size != st.size {
			dirty = append(dirty, name)
		}
	}
	for name := range w.known {
		if _, ok := states[name]; !ok {
			gone = append(gone, name)
		}
	}
	w.mu.Unlock()

	for _, name := range dirty {
		w.markDirty(name)
	}
	for _, name := range gone {
		w.markGone(name)
	}
}

func (w *Watcher) scan() (map[string]fileState, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}

	states := make(map[string]fileState)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := w.nameFor(de.Name())
		if name == "" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		states[name] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	return states, nil
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("Event channel full, dropping", "op", ev.Op, "name", ev.Name)
	}
}
