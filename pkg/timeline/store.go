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

// Package timeline persists the per-configuration log of operational events.
//
// The timeline is observability only: the component subscribes to the event
// bus, so no data-path operation ever waits on a timeline write, and write
// failures are logged and swallowed.
package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"calendar2image/pkg/atomicfile"
	"calendar2image/pkg/naming"
)

// Retention is how long entries stay on a timeline. Anything strictly older
// is elided on every read and append.
const Retention = 24 * time.Hour

// Entry is one timeline event, stored newest-first in
// <cacheName>.timeline.json.
type Entry struct {
	Timestamp    time.Time      `json:"timestamp"`
	ConfigName   string         `json:"configName"`
	EventType    string         `json:"eventType"`
	EventSubtype string         `json:"eventSubtype"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Store reads and writes per-configuration timeline files. Appends and reads
// for the same configuration are serialized; across configurations they are
// independent.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is replaceable for retention tests.
	now func() time.Time
}

// NewStore creates a timeline store over the cache directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex), now: time.Now}
}

func (s *Store) nameLock(cacheName string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[cacheName]
	if !ok {
		l = &sync.Mutex{}
		s.locks[cacheName] = l
	}
	return l
}

func (s *Store) path(cacheName string) string {
	return filepath.Join(s.dir, cacheName+".timeline.json")
}

// Append prunes entries past retention, unshifts the new entry, and commits
// the file atomically.
func (s *Store) Append(entry Entry) error {
	if entry.ConfigName == "" {
		return fmt.Errorf("timeline entry has no configuration name")
	}
	cacheName := naming.CacheName(entry.ConfigName)

	lock := s.nameLock(cacheName)
	lock.Lock()
	defer lock.Unlock()

	entries, _ := s.readFile(cacheName)
	entries = s.prune(entries)

	entries = append([]Entry{entry}, entries...)
	return s.writeFile(cacheName, entries)
}

// Read returns the pruned timeline, newest first. When pruning removed
// anything the file is lazily rewritten so retention also holds on disk.
func (s *Store) Read(name string) ([]Entry, error) {
	cacheName := naming.CacheName(name)

	lock := s.nameLock(cacheName)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readFile(cacheName)
	if err != nil {
		return nil, err
	}

	pruned := s.prune(entries)
	if len(pruned) != len(entries) {
		if err := s.writeFile(cacheName, pruned); err != nil {
			// Reads still succeed when the rewrite fails; the next append
			// prunes again.
			return pruned, nil
		}
	}
	return pruned, nil
}

func (s *Store) prune(entries []Entry) []Entry {
	cutoff := s.now().Add(-Retention)
	kept := entries[:0:len(entries)]
	for _, e := range entries {
		// Only strictly older entries are elided; one exactly at the
		// retention boundary stays.
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (s *Store) readFile(cacheName string) ([]Entry, error) {
	raw, err := os.ReadFile(s.path(cacheName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading timeline %q: %w", cacheName, err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// A corrupt timeline restarts empty; observability must not wedge.
		return nil, nil
	}
	return entries, nil
}

func (s *Store) writeFile(cacheName string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding timeline %q: %w", cacheName, err)
	}
	if err := atomicfile.WriteFile(s.path(cacheName), raw, 0o644, false); err != nil {
		return fmt.Errorf("writing timeline %q: %w", cacheName, err)
	}
	return nil
}
