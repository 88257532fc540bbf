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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tagged error kinds distinguished by Registry.Load. The HTTP boundary maps
// these to status codes exactly once; no component matches on error strings.
var (
	// ErrNotFound indicates no configuration file exists for the name.
	ErrNotFound = errors.New("configuration not found")

	// ErrInvalidJSON indicates the configuration file is not valid JSON.
	ErrInvalidJSON = errors.New("configuration is not valid JSON")

	// ErrValidation indicates the configuration parsed but violates the
	// schema or a semantic constraint.
	ErrValidation = errors.New("configuration validation failed")
)

// LoadAllError aggregates per-name failures from Registry.LoadAll.
type LoadAllError struct {
	// Failures maps configuration names to their load errors.
	Failures map[string]error
}

// Error lists each offending name with its cause, in name order.
func (e *LoadAllError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("failed to load %d configuration(s): %s", len(names), strings.Join(parts, "; "))
}
