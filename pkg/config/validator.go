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
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/robfig/cron/v3"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *openapi3.Schema
	schemaErr  error
)

// CronParser parses preGenerateInterval expressions. Standard 5-field cron
// plus an optional leading seconds field.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// configSchema returns the compiled OpenAPI schema for configuration records.
func configSchema() (*openapi3.Schema, error) {
	schemaOnce.Do(func() {
		s := &openapi3.Schema{}
		if err := s.UnmarshalJSON(schemaJSON); err != nil {
			schemaErr = fmt.Errorf("compiling embedded configuration schema: %w", err)
			return
		}
		schema = s
	})
	return schema, schemaErr
}

// validateSchema checks the raw JSON document against the embedded schema.
//
// This catches structural problems (unknown options, wrong types, out-of-range
// values) with precise paths before the document is decoded into a Config.
func validateSchema(raw []byte) error {
	s, err := configSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if err := s.VisitJSON(doc, openapi3.MultiErrors()); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// validate runs semantic checks that the schema cannot express.
// Called after setDefaults, so zero values have already been filled.
func validate(cfg *Config) error {
	if cfg.Template == "" {
		return fmt.Errorf("%w: template is required", ErrValidation)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive, got %dx%d",
			ErrValidation, cfg.Width, cfg.Height)
	}
	if cfg.ImageType != "png" && cfg.ImageType != "jpg" {
		return fmt.Errorf("%w: imageType must be png or jpg, got %q", ErrValidation, cfg.ImageType)
	}
	if cfg.BitDepth < 1 || cfg.BitDepth > 32 {
		return fmt.Errorf("%w: bitDepth must be 1..32, got %d", ErrValidation, cfg.BitDepth)
	}
	switch cfg.Rotate {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotate must be 0, 90, 180 or 270, got %d", ErrValidation, cfg.Rotate)
	}

	if cfg.PreGenerateInterval != "" {
		if _, err := CronParser.Parse(cfg.PreGenerateInterval); err != nil {
			return fmt.Errorf("%w: preGenerateInterval %q is not a valid cron expression: %v",
				ErrValidation, cfg.PreGenerateInterval, err)
		}
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q is not a valid IANA zone: %v",
				ErrValidation, cfg.Timezone, err)
		}
	}

	for i, src := range cfg.ICSURLs {
		if src.URL == "" {
			return fmt.Errorf("%w: icsUrl[%d] has an empty url", ErrValidation, i)
		}
	}
	for i, src := range cfg.ExtraDataURLs {
		if src.URL == "" {
			return fmt.Errorf("%w: extraDataUrl[%d] has an empty url", ErrValidation, i)
		}
	}

	return nil
}
