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

// Package artifact owns the on-disk artifact cache and the per-configuration
// change history.
//
// Layout under the cache directory, with <cacheName> the cache form of the
// configuration name:
//
//	<cacheName>.<imageType>      artifact bytes
//	<cacheName>.meta.json        artifact metadata sidecar
//	<cacheName>.history.json     change history
//
// All writes are temp-then-rename commits; readers see either the prior or
// the new committed pair, never a torn state.
package artifact

import "time"

// Metadata is the artifact metadata sidecar, serialized as
// <cacheName>.meta.json. Timestamps are ISO 8601 UTC; CRC32 is 8 lowercase
// hex digits.
type Metadata struct {
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	ImageType   string    `json:"imageType"`
	Size        int       `json:"size"`
	GeneratedAt time.Time `json:"generatedAt"`
	CRC32       string    `json:"crc32"`

	// Trigger is the labeled cause of the generation: scheduled, boot,
	// on_demand, cache_miss, fresh, crc32_check, or config_change.
	Trigger string `json:"trigger"`

	// GenerationDuration is the worker pipeline duration in milliseconds.
	GenerationDuration int64 `json:"generationDuration"`
}

// ContentTypeFor maps an image type to its MIME content type.
func ContentTypeFor(imageType string) string {
	if imageType == "jpg" {
		return "image/jpeg"
	}
	return "image/png"
}
