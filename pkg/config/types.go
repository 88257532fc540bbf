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

// Package config provides data models and loading for calendar configurations.
//
// Configurations are JSON files in the config directory, one per calendar
// target. Loading validates the raw document against an OpenAPI schema,
// applies defaults, and runs semantic checks (cron expression, timezone,
// pixel extents) before a Config is handed to any other component.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is a single calendar configuration record.
//
// Zero values for optional fields are replaced by setDefaults after parsing;
// a Config obtained from Registry.Load always has defaults applied.
type Config struct {
	// Template selects the rendering template (file stem under
	// <config-dir>/templates, or a built-in template name).
	Template string `json:"template"`

	// ICSURLs lists the calendar sources to fetch. Accepts a single URL
	// string or an ordered array of source objects in the JSON document.
	// Empty means no calendar fetch.
	ICSURLs ICSSourceList `json:"icsUrl,omitempty"`

	// Width and Height are the pixel extents of the rendered image.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// ImageType is the encoded output format, "png" or "jpg".
	ImageType string `json:"imageType,omitempty"`

	// Grayscale converts the output to grayscale when true.
	Grayscale bool `json:"grayscale,omitempty"`

	// BitDepth is the output bit depth, 1..32.
	BitDepth int `json:"bitDepth,omitempty"`

	// Rotate rotates the output clockwise; one of 0, 90, 180, 270.
	Rotate int `json:"rotate,omitempty"`

	// Locale is the BCP 47 locale passed to the rendering collaborator.
	Locale string `json:"locale,omitempty"`

	// Timezone is the IANA zone used for rendering. It does NOT affect
	// cron firing, which is always UTC.
	Timezone string `json:"timezone,omitempty"`

	// ExpandRecurringFrom and ExpandRecurringTo bound recurrence expansion
	// in days relative to today. Nil means the defaults (-31, +31).
	ExpandRecurringFrom *int `json:"expandRecurringFrom,omitempty"`
	ExpandRecurringTo   *int `json:"expandRecurringTo,omitempty"`

	// PreGenerateInterval is a cron expression (5 or 6 fields, UTC).
	// Empty means no scheduled refresh; the image is generated on demand.
	PreGenerateInterval string `json:"preGenerateInterval,omitempty"`

	// ExtraDataURLs lists auxiliary JSON endpoints fetched for the template.
	// Accepts a single URL string or an ordered array of source objects.
	ExtraDataURLs ExtraDataSourceList `json:"extraDataUrl,omitempty"`

	// ExtraDataCacheTTL is the default auxiliary cache TTL in seconds,
	// applied to sources without their own cacheTtl.
	ExtraDataCacheTTL int `json:"extraDataCacheTtl,omitempty"`

	// ExtraDataHeaders are applied to every auxiliary fetch unless the
	// source overrides a header with the same name.
	ExtraDataHeaders map[string]string `json:"extraDataHeaders,omitempty"`

	// Adjustments is an opaque object forwarded to the rendering collaborator.
	Adjustments map[string]any `json:"adjustments,omitempty"`
}

// ICSSource is one calendar source.
type ICSSource struct {
	URL string `json:"url"`

	// SourceName labels events from this source in the rendering context.
	SourceName string `json:"sourceName,omitempty"`

	// RejectUnauthorized controls TLS certificate verification.
	// Nil means true (verify).
	RejectUnauthorized *bool `json:"rejectUnauthorized,omitempty"`
}

// Verify reports whether TLS certificates from this source must verify.
func (s ICSSource) Verify() bool {
	return s.RejectUnauthorized == nil || *s.RejectUnauthorized
}

// ICSSourceList unmarshals from either a single URL string or an array of
// source objects, preserving order.
type ICSSourceList []ICSSource

// UnmarshalJSON implements the string-or-array form of the icsUrl option.
func (l *ICSSourceList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = ICSSourceList{{URL: single}}
		return nil
	}

	var many []ICSSource
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("icsUrl must be a URL string or an array of source objects: %w", err)
	}
	*l = many
	return nil
}

// ExtraDataSource is one auxiliary data endpoint.
type ExtraDataSource struct {
	URL string `json:"url"`

	// CacheTTL overrides the configuration-level extraDataCacheTtl, in
	// seconds. Nil means inherit.
	CacheTTL *int `json:"cacheTtl,omitempty"`

	// Headers override configuration-level extraDataHeaders per name.
	Headers map[string]string `json:"headers,omitempty"`
}

// ExtraDataSourceList unmarshals from either a single URL string or an
// array of source objects, preserving order.
type ExtraDataSourceList []ExtraDataSource

// UnmarshalJSON implements the string-or-array form of the extraDataUrl option.
func (l *ExtraDataSourceList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = ExtraDataSourceList{{URL: single}}
		return nil
	}

	var many []ExtraDataSource
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("extraDataUrl must be a URL string or an array of source objects: %w", err)
	}
	*l = many
	return nil
}

// Scheduled reports whether this configuration has a cron refresh schedule.
func (c *Config) Scheduled() bool {
	return c.PreGenerateInterval != ""
}

// RecurrenceWindow returns the recurrence expansion bounds in days relative
// to today, with defaults applied.
func (c *Config) RecurrenceWindow() (from, to int) {
	from, to = DefaultExpandRecurringFrom, DefaultExpandRecurringTo
	if c.ExpandRecurringFrom != nil {
		from = *c.ExpandRecurringFrom
	}
	if c.ExpandRecurringTo != nil {
		to = *c.ExpandRecurringTo
	}
	return from, to
}
