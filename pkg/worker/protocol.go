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

// Package worker runs image generations in isolated child processes.
//
// The service re-executes its own binary with the "worker" subcommand; the
// child performs one generation and writes a single JSON Result to stdout.
// A crash, hang, or memory blowup in the rendering path therefore kills the
// child, never the service. The dispatcher side owns the artifact cache
// commit and all event publishing; the child process has no bus.
package worker

import (
	"encoding/json"
	"fmt"
	"io"

	"calendar2image/pkg/extradata"
)

// EnvCorrelationID carries the dispatch correlation ID into the child
// process for log correlation.
const EnvCorrelationID = "C2I_CORRELATION_ID"

// Error kinds reported by a worker run. The front door maps these onto HTTP
// statuses.
const (
	KindConfigNotFound = "config_not_found"
	KindConfigInvalid  = "config_invalid"
	KindTemplate       = "template"
	KindRender         = "render"
	KindRasterize      = "rasterize"
	KindTimeout        = "timeout"
	KindCrash          = "crash"
	KindInternal       = "internal"
)

// SourceReport is the per-calendar-source outcome inside a Result.
type SourceReport struct {
	URL        string `json:"url"`
	EventCount int    `json:"eventCount"`
	Error      string `json:"error,omitempty"`
}

// Result is the single JSON document a worker process writes to stdout.
// Image bytes travel base64-encoded by encoding/json.
type Result struct {
	OK bool `json:"ok"`

	Image       []byte `json:"image,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	ImageType   string `json:"imageType,omitempty"`

	// EventCount is the total number of calendar occurrences rendered.
	EventCount int `json:"eventCount"`

	// Sources reports each calendar source individually, including ones
	// that failed without failing the generation.
	Sources []SourceReport `json:"sources,omitempty"`

	// ExtraData reports every auxiliary fetch outcome, including background
	// refreshes joined before the process exited. The dispatcher publishes
	// them since the worker has no bus.
	ExtraData []extradata.Report `json:"extraData,omitempty"`

	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// failure builds an error Result.
func failure(kind string, err error) *Result {
	return &Result{OK: false, ErrorKind: kind, ErrorMessage: err.Error()}
}

// WriteResult encodes the result to w as one JSON document.
func WriteResult(w io.Writer, result *Result) error {
	if err := json.NewEncoder(w).Encode(result); err != nil {
		return fmt.Errorf("encoding worker result: %w", err)
	}
	return nil
}

// ReadResult decodes a worker's stdout into a Result.
func ReadResult(r io.Reader) (*Result, error) {
	result := &Result{}
	if err := json.NewDecoder(r).Decode(result); err != nil {
		return nil, fmt.Errorf("decoding worker result: %w", err)
	}
	return result, nil
}
