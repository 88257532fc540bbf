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

package artifact

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

// HistoryEntry records one distinct artifact fingerprint.
type HistoryEntry struct {
	Timestamp          time.Time `json:"timestamp"`
	CRC32              string    `json:"crc32"`
	Trigger            string    `json:"trigger"`
	GenerationDuration int64     `json:"generationDuration"`
}

// Run is the run-length view over a history: one row per span of identical
// fingerprints, newest first. EndTime is zero for the current run.
type Run struct {
	CRC32     string    `json:"crc32"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitzero"`
	Count     int       `json:"count"`
}

// History is the append-only per-configuration record of distinct artifact
// fingerprints, stored as <cacheName>.history.json in time order (oldest
// first). Consecutive duplicates by CRC32 are collapsed on append.
type History struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHistory creates a history store over the cache directory.
func NewHistory(dir string) *History {
	return &History{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (h *History) nameLock(cacheName string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[cacheName]
	if !ok {
		l = &sync.Mutex{}
		h.locks[cacheName] = l
	}
	return l
}

func (h *History) path(cacheName string) string {
	return filepath.Join(h.dir, cacheName+".history.json")
}

// Append records a fingerprint transition. If the last committed entry
// carries the same CRC32 the append is a no-op, so the history never holds
// two consecutive equal fingerprints.
func (h *History) Append(name, crc32, trigger string, durationMs int64) error {
	cacheName := naming.CacheName(name)

	lock := h.nameLock(cacheName)
	lock.Lock()
	defer lock.Unlock()

	entries, err := h.readOldestFirst(cacheName)
	if err != nil {
		return err
	}

	if n := len(entries); n > 0 && entries[n-1].CRC32 == crc32 {
		return nil
	}

	entries = append(entries, HistoryEntry{
		Timestamp:          time.Now().UTC(),
		CRC32:              crc32,
		Trigger:            trigger,
		GenerationDuration: durationMs,
	})

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history for %q: %w", name, err)
	}
	if err := atomicfile.WriteFile(h.path(cacheName), raw, 0o644, false); err != nil {
		return fmt.Errorf("writing history for %q: %w", name, err)
	}
	return nil
}

// Read returns the history newest-first. Missing or corrupt files yield an
// empty history.
func (h *History) Read(name string) ([]HistoryEntry, error) {
	cacheName := naming.CacheName(name)

	lock := h.nameLock(cacheName)
	lock.Lock()
	defer lock.Unlock()

	entries, err := h.readOldestFirst(cacheName)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

// Runs returns the run-length view, newest first. Consecutive equal
// fingerprints (possible only in files predating append collapsing) are
// grouped into a single run.
func (h *History) Runs(name string) ([]Run, error) {
	cacheName := naming.CacheName(name)

	lock := h.nameLock(cacheName)
	lock.Lock()
	defer lock.Unlock()

	entries, err := h.readOldestFirst(cacheName)
	if err != nil {
		return nil, err
	}

	var runs []Run
	for _, e := range entries {
		if n := len(runs); n > 0 && runs[n-1].CRC32 == e.CRC32 {
			runs[n-1].Count++
			continue
		}
		if n := len(runs); n > 0 {
			runs[n-1].EndTime = e.Timestamp
		}
		runs = append(runs, Run{CRC32: e.CRC32, StartTime: e.Timestamp, Count: 1})
	}

	// Newest first for the caller.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}

func (h *History) readOldestFirst(cacheName string) ([]HistoryEntry, error) {
	raw, err := os.ReadFile(h.path(cacheName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history %q: %w", cacheName, err)
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Corrupt history restarts empty rather than blocking saves.
		return nil, nil
	}
	return entries, nil
}
