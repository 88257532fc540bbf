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

// Package atomicfile implements write-to-temp-then-rename file commits.
//
// Every mutation of the cache directory (artifacts, metadata sidecars,
// history, timelines, auxiliary entries) goes through WriteFile so a
// concurrent reader sees either the prior committed content or the new
// committed content, never a torn state. Temp files use the fixed ".tmp"
// suffix so interrupted writes can be swept on startup.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempSuffix is appended to the target path during an in-progress write.
const TempSuffix = ".tmp"

// WriteFile atomically replaces path with data.
//
// The data is written to path+".tmp" and renamed over the target. When sync
// is true the temp file is fsynced before the rename, making the commit
// durable across power loss at the cost of a disk flush. The temp file is
// removed on every failure path.
func WriteFile(path string, data []byte, perm os.FileMode, sync bool) error {
	tmp := path + TempSuffix

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating temp file %q: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file %q: %w", tmp, err)
	}

	if sync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("syncing temp file %q: %w", tmp, err)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file %q: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing %q: %w", path, err)
	}
	return nil
}

// CleanupTemp removes every "*.tmp" file directly under dir and returns how
// many were removed. This is the garbage collector for writes interrupted by
// a crash; it must only run on startup, before any writer is active.
func CleanupTemp(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+TempSuffix))
	if err != nil {
		return 0, fmt.Errorf("globbing temp files in %q: %w", dir, err)
	}

	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing stale temp file %q: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
