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

// Default values for configuration fields.
const (
	// DefaultWidth is the default image width in pixels.
	DefaultWidth = 800

	// DefaultHeight is the default image height in pixels.
	DefaultHeight = 600

	// DefaultImageType is the default encoded output format.
	DefaultImageType = "png"

	// DefaultBitDepth is the default output bit depth.
	DefaultBitDepth = 8

	// DefaultLocale is the default rendering locale.
	DefaultLocale = "en-US"

	// DefaultExpandRecurringFrom is the default start of the recurrence
	// expansion window, in days relative to today.
	DefaultExpandRecurringFrom = -31

	// DefaultExpandRecurringTo is the default end of the recurrence
	// expansion window, in days relative to today.
	DefaultExpandRecurringTo = 31

	// DefaultExtraDataCacheTTL is the default auxiliary cache TTL in seconds.
	DefaultExtraDataCacheTTL = 300
)

// setDefaults applies default values to unset configuration fields.
// This modifies the config in-place and should be called after parsing
// and before semantic validation.
//
// Most callers should use Registry.Load instead. This function is primarily
// useful for testing default application independently from JSON parsing.
func setDefaults(cfg *Config) {
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.ImageType == "" {
		cfg.ImageType = DefaultImageType
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = DefaultBitDepth
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.ExtraDataCacheTTL == 0 {
		cfg.ExtraDataCacheTTL = DefaultExtraDataCacheTTL
	}

	// Rotate 0 and Grayscale false are valid values and also the defaults,
	// so the zero value needs no correction.
	// ExpandRecurringFrom/To stay nil; RecurrenceWindow applies the defaults
	// so that an explicit 0 remains distinguishable from absent.
}
