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
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"calendar2image/pkg/atomicfile"
	"calendar2image/pkg/events"
	"calendar2image/pkg/fingerprint"
	"calendar2image/pkg/naming"
)

// Cache is the atomic on-disk artifact cache.
//
// Save commits the artifact bytes first, then the metadata sidecar, each via
// temp-then-rename, then records the fingerprint transition in the change
// history. Save is deliberately not cancellable: once entered it runs to
// completion or fails without leaving a partially visible state.
type Cache struct {
	dir     string
	history *History
	logger  *slog.Logger

	// Saves for the same name are serialized so the bytes/metadata pair
	// can never interleave between two writers.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCache creates an artifact cache over dir. The history receives an
// append for every save; history failures are logged, never propagated.
func NewCache(dir string, history *History, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		dir:     dir,
		history: history,
		logger:  logger.With("component", "artifact-cache"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) nameLock(cacheName string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[cacheName]
	if !ok {
		l = &sync.Mutex{}
		c.locks[cacheName] = l
	}
	return l
}

func (c *Cache) artifactPath(cacheName, imageType string) string {
	return filepath.Join(c.dir, cacheName+"."+imageType)
}

func (c *Cache) metaPath(cacheName string) string {
	return filepath.Join(c.dir, cacheName+".meta.json")
}

// Save atomically publishes a new artifact for the configuration name.
//
// Commit order: bytes (fsynced), then metadata sidecar, then change-history
// append. If the metadata commit fails the artifact file already carries the
// new bytes; the caller retries the whole save and any stale temp file is
// overwritten by the next attempt.
func (c *Cache) Save(name string, data []byte, contentType, imageType string, trigger events.Trigger, duration time.Duration) (*Metadata, error) {
	cacheName := naming.CacheName(name)

	lock := c.nameLock(cacheName)
	lock.Lock()
	defer lock.Unlock()

	meta := &Metadata{
		Name:               name,
		ContentType:        contentType,
		ImageType:          imageType,
		Size:               len(data),
		GeneratedAt:        time.Now().UTC(),
		CRC32:              fingerprint.Hex(data),
		Trigger:            string(trigger),
		GenerationDuration: duration.Milliseconds(),
	}

	if err := atomicfile.WriteFile(c.artifactPath(cacheName, imageType), data, 0o644, true); err != nil {
		return nil, fmt.Errorf("saving artifact for %q: %w", name, err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata for %q: %w", name, err)
	}
	if err := atomicfile.WriteFile(c.metaPath(cacheName), metaJSON, 0o644, false); err != nil {
		return nil, fmt.Errorf("saving metadata for %q: %w", name, err)
	}

	// History is observability-adjacent: a failed append must not fail the
	// save that already committed.
	if c.history != nil {
		if err := c.history.Append(name, meta.CRC32, string(trigger), meta.GenerationDuration); err != nil {
			c.logger.Error("Failed to append change history",
				"name", name,
				"crc32", meta.CRC32,
				"error", err)
		}
	}

	c.logger.Debug("Artifact saved",
		"name", name,
		"crc32", meta.CRC32,
		"size", meta.Size,
		"trigger", meta.Trigger)

	return meta, nil
}

// Load returns the committed artifact pair for a name, or (nil, nil, nil)
// when either file is missing or the metadata is unparseable.
func (c *Cache) Load(name string) ([]byte, *Metadata, error) {
	meta, err := c.Metadata(name)
	if err != nil || meta == nil {
		return nil, nil, err
	}

	cacheName := naming.CacheName(name)
	data, err := os.ReadFile(c.artifactPath(cacheName, meta.ImageType))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading artifact for %q: %w", name, err)
	}
	return data, meta, nil
}

// Metadata returns just the metadata sidecar, or nil when absent or
// unparseable.
func (c *Cache) Metadata(name string) (*Metadata, error) {
	cacheName := naming.CacheName(name)
	raw, err := os.ReadFile(c.metaPath(cacheName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading metadata for %q: %w", name, err)
	}

	meta := &Metadata{}
	if err := json.Unmarshal(raw, meta); err != nil {
		// A corrupt sidecar is treated as a cache miss; the next save
		// rewrites it.
		c.logger.Warn("Discarding unparseable metadata sidecar", "name", name, "error", err)
		return nil, nil
	}
	return meta, nil
}

// CleanupTemp removes interrupted-save temp files. Run once on startup.
func (c *Cache) CleanupTemp() (int, error) {
	return atomicfile.CleanupTemp(c.dir)
}
