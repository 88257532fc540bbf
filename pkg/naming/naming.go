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

// Package naming validates and normalizes configuration names.
//
// Every component that derives a filesystem path or parses an HTTP path
// parameter from a configuration name goes through this package. It is the
// single point of trust between externally supplied identifiers and the
// config and cache directories.
//
// Two derived forms exist for each accepted name:
//   - the file form: the name verbatim, used as the JSON file stem
//   - the cache form: spaces replaced with underscores, used for artifact,
//     metadata, history, and timeline filenames
package naming

import (
	"fmt"
	"strings"
)

// reserved names rejected case-insensitively. These collide with device
// files on some filesystems and make poor cache keys everywhere.
var reserved = map[string]struct{}{
	"con": {},
	"prn": {},
	"aux": {},
	"nul": {},
}

// Sanitize normalizes a raw configuration name to its file form.
//
// Normalization trims surrounding whitespace and strips a single trailing
// ".json" extension (case-insensitive). The result is rejected if it is
// empty, contains a path separator, contains a parent-directory token,
// begins with a dot, or is a reserved name.
//
// Returns the file form, or an error describing the first violated rule.
func Sanitize(raw string) (string, error) {
	name := strings.TrimSpace(raw)

	// A single trailing .json is an artifact of copy-pasting filenames;
	// strip it rather than reject.
	if len(name) >= 5 && strings.EqualFold(name[len(name)-5:], ".json") {
		name = name[:len(name)-5]
	}

	switch {
	case name == "":
		return "", fmt.Errorf("configuration name is empty")
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("configuration name %q contains a path separator", name)
	case strings.Contains(name, ".."):
		return "", fmt.Errorf("configuration name %q contains a parent directory token", name)
	case strings.HasPrefix(name, "."):
		return "", fmt.Errorf("configuration name %q begins with a dot", name)
	}

	if _, ok := reserved[strings.ToLower(name)]; ok {
		return "", fmt.Errorf("configuration name %q is reserved", name)
	}

	return name, nil
}

// IsValid reports whether Sanitize would accept the raw name.
func IsValid(raw string) bool {
	_, err := Sanitize(raw)
	return err == nil
}

// CacheName converts a file form into the cache form used for sidecar
// filenames. Only ASCII spaces are substituted; every other accepted
// character is already filesystem-safe.
func CacheName(fileForm string) string {
	return strings.ReplaceAll(fileForm, " ", "_")
}

// DigitsOnly reports whether the name consists purely of decimal digits.
// Such names are ordered numerically when enumerating configurations.
func DigitsOnly(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
