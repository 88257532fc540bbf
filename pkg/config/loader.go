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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"calendar2image/pkg/naming"
)

// Registry loads configurations from a directory.
//
// The registry holds no state beyond the directory path; every Load reads
// from disk so that external edits are visible immediately. The directory
// is read-only to the service.
type Registry struct {
	dir string
}

// NewRegistry creates a registry over the given configuration directory.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the configuration directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Entry pairs a configuration name with its loaded record.
type Entry struct {
	Name   string
	Config *Config
}

// Load reads, validates, and default-fills the configuration for a name.
//
// The name is sanitized first; a name the sanitizer rejects is reported as
// ErrNotFound since no such configuration can exist. Other failures are
// tagged ErrInvalidJSON or ErrValidation.
func (r *Registry) Load(name string) (*Config, error) {
	fileForm, err := naming.Sanitize(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	path := filepath.Join(r.dir, fileForm+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, fileForm)
		}
		return nil, fmt.Errorf("reading configuration %q: %w", fileForm, err)
	}

	return Parse(raw)
}

// Parse validates a raw configuration document and returns the typed record
// with defaults applied.
func Parse(raw []byte) (*Config, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		// The schema pass has already accepted the document; reaching this
		// branch means a structural mismatch in the typed decode.
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAll enumerates every *.json file in the directory and loads each.
//
// Results are ordered with purely-decimal names numerically first, then the
// remaining names lexicographically. If any load fails, LoadAll returns the
// successfully loaded entries together with a *LoadAllError listing each
// offending name.
func (r *Registry) LoadAll() ([]Entry, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading configuration directory %q: %w", r.dir, err)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		stem := strings.TrimSuffix(de.Name(), ".json")
		if !naming.IsValid(stem) {
			continue
		}
		names = append(names, stem)
	}

	sortNames(names)

	entries := make([]Entry, 0, len(names))
	failures := make(map[string]error)
	for _, name := range names {
		cfg, err := r.Load(name)
		if err != nil {
			failures[name] = err
			continue
		}
		entries = append(entries, Entry{Name: name, Config: cfg})
	}

	if len(failures) > 0 {
		return entries, &LoadAllError{Failures: failures}
	}
	return entries, nil
}

// sortNames orders purely-decimal names numerically first, then the rest
// lexicographically.
func sortNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		di, dj := naming.DigitsOnly(names[i]), naming.DigitsOnly(names[j])
		switch {
		case di && dj:
			ni, _ := strconv.ParseInt(names[i], 10, 64)
			nj, _ := strconv.ParseInt(names[j], 10, 64)
			if ni != nj {
				return ni < nj
			}
			return names[i] < names[j]
		case di:
			return true
		case dj:
			return false
		default:
			return names[i] < names[j]
		}
	})
}
