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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"calendar2image/pkg/artifact"
	"calendar2image/pkg/config"
	"calendar2image/pkg/events"
	"calendar2image/pkg/naming"
	"calendar2image/pkg/worker"
)

// apiRequest is one parsed front-door path.
type apiRequest struct {
	name string
	ext  string
	kind string // "image", "fresh", "crc32", "history", "timeline"
}

// parseAPIPath interprets the path after /api/. Accepted shapes:
//
//	<name>.<ext>
//	<name>.<ext>.crc32
//	<name>.<ext>.crc32.history
//	<name>/fresh.<ext>
//	<name>/timeline
func parseAPIPath(path string) (apiRequest, bool) {
	rest := strings.TrimPrefix(path, "/api/")
	if rest == "" || strings.Contains(rest, "//") {
		return apiRequest{}, false
	}

	if raw, sub, ok := strings.Cut(rest, "/"); ok {
		name, err := naming.Sanitize(raw)
		if err != nil {
			return apiRequest{}, false
		}
		if sub == "timeline" {
			return apiRequest{name: name, kind: "timeline"}, true
		}
		if stem, ext, ok := strings.Cut(sub, "."); ok && stem == "fresh" && ext != "" {
			return apiRequest{name: name, ext: ext, kind: "fresh"}, true
		}
		return apiRequest{}, false
	}

	kind := "image"
	if strings.HasSuffix(rest, ".crc32.history") {
		kind = "history"
		rest = strings.TrimSuffix(rest, ".crc32.history")
	} else if strings.HasSuffix(rest, ".crc32") {
		kind = "crc32"
		rest = strings.TrimSuffix(rest, ".crc32")
	}

	dot := strings.LastIndex(rest, ".")
	if dot <= 0 || dot == len(rest)-1 {
		return apiRequest{}, false
	}
	name, err := naming.Sanitize(rest[:dot])
	if err != nil {
		return apiRequest{}, false
	}
	return apiRequest{name: name, ext: rest[dot+1:], kind: kind}, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, "not_found",
		fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), nil)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	req, ok := parseAPIPath(r.URL.Path)
	if !ok {
		s.handleNotFound(w, r)
		return
	}

	// The crc32 endpoint answers text/plain, errors included.
	plain := req.kind == "crc32"

	cfg, err := s.registry.Load(req.name)
	if err != nil {
		s.writeConfigError(w, req.name, err, plain)
		return
	}

	switch req.kind {
	case "timeline":
		s.serveTimeline(w, req.name)
		return
	case "image", "fresh", "crc32", "history":
		if req.ext != cfg.ImageType {
			message := fmt.Sprintf("configuration %q serves %s images, not %s", req.name, cfg.ImageType, req.ext)
			if plain {
				s.writeTextError(w, http.StatusNotFound, message)
			} else {
				s.writeError(w, http.StatusNotFound, "wrong_extension", message, nil)
			}
			return
		}
	}

	switch req.kind {
	case "image":
		s.serveImage(w, r, req.name, cfg)
	case "fresh":
		s.serveFresh(w, r, req.name)
	case "crc32":
		s.serveCRC32(w, r, req.name)
	case "history":
		s.serveHistory(w, req.name)
	}
}

// serveImage is the cached download path. Scheduled configurations serve
// from the cache (generating on a miss); unscheduled ones generate every
// request with caching reported as DISABLED.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, name string, cfg *config.Config) {
	if !cfg.Scheduled() {
		outcome, err := s.generator.Dispatch(r.Context(), name, events.TriggerOnDemand)
		if err != nil {
			s.writeDispatchError(w, err, false)
			return
		}
		s.writeImage(w, name, CacheDisabled, outcome.Data, outcome.Meta)
		return
	}

	data, meta, err := s.cache.Load(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache_error", err.Error(), nil)
		return
	}
	if meta != nil {
		s.writeImage(w, name, CacheHit, data, meta)
		return
	}

	outcome, err := s.generator.Dispatch(r.Context(), name, events.TriggerCacheMiss)
	if err != nil {
		s.writeDispatchError(w, err, false)
		return
	}
	s.writeImage(w, name, CacheMiss, outcome.Data, outcome.Meta)
}

// serveFresh always generates, bypassing the cache for the response while
// still committing the result to it.
func (s *Server) serveFresh(w http.ResponseWriter, r *http.Request, name string) {
	outcome, err := s.generator.Dispatch(r.Context(), name, events.TriggerFresh)
	if err != nil {
		s.writeDispatchError(w, err, false)
		return
	}
	s.writeImage(w, name, CacheBypass, outcome.Data, outcome.Meta)
}

// serveCRC32 returns the cached artifact's fingerprint as text/plain,
// generating first when nothing is cached yet. Errors stay plain text to
// match the success content type.
func (s *Server) serveCRC32(w http.ResponseWriter, r *http.Request, name string) {
	meta, err := s.cache.Metadata(name)
	if err != nil {
		s.writeTextError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := CacheHit
	if meta == nil {
		outcome, err := s.generator.Dispatch(r.Context(), name, events.TriggerCRC32Check)
		if err != nil {
			s.writeDispatchError(w, err, true)
			return
		}
		meta = outcome.Meta
		status = CacheMiss
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Cache", status)
	fmt.Fprint(w, meta.CRC32)

	s.publishDownload(name, events.DownloadCRC32, status, meta.CRC32)
}

// serveHistory returns the collapsed fingerprint runs, newest first.
func (s *Server) serveHistory(w http.ResponseWriter, name string) {
	runs, err := s.history.Runs(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "history_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, runs)
	s.publishDownload(name, events.DownloadCRC32History, "", "")
}

// serveTimeline returns the configuration's 24-hour event log, newest first.
func (s *Server) serveTimeline(w http.ResponseWriter, name string) {
	entries, err := s.timelines.Read(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "timeline_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeImage(w http.ResponseWriter, name, cacheStatus string, data []byte, meta *artifact.Metadata) {
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Cache", cacheStatus)
	w.Header().Set("X-CRC32", meta.CRC32)
	w.Header().Set("X-Generated-At", meta.GeneratedAt.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("Writing image response failed", "config", name, "error", err)
	}

	s.publishDownload(name, events.DownloadImage, cacheStatus, meta.CRC32)
}

func (s *Server) publishDownload(name, kind, cacheStatus, crc32 string) {
	if s.bus != nil {
		s.bus.Publish(events.NewDownloadEvent(name, kind, cacheStatus, crc32))
	}
}

// errorBody is the JSON error response shape.
type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string, details map[string]any) {
	writeJSON(w, status, errorBody{Error: kind, Message: message, Details: details})
}

func (s *Server) writeTextError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, message)
}

func configErrorParts(name string, err error) (status int, kind, message string) {
	switch {
	case errors.Is(err, config.ErrNotFound):
		return http.StatusNotFound, "config_not_found", fmt.Sprintf("no configuration named %q", name)
	case errors.Is(err, config.ErrInvalidJSON), errors.Is(err, config.ErrValidation):
		return http.StatusUnprocessableEntity, "config_invalid", err.Error()
	default:
		return http.StatusInternalServerError, "internal", err.Error()
	}
}

func (s *Server) writeConfigError(w http.ResponseWriter, name string, err error, plain bool) {
	status, kind, message := configErrorParts(name, err)
	if plain {
		s.writeTextError(w, status, message)
		return
	}
	s.writeError(w, status, kind, message, nil)
}

func dispatchErrorParts(err error) (status int, kind, message string, details map[string]any) {
	var dispErr *worker.DispatchError
	if !errors.As(err, &dispErr) {
		return http.StatusInternalServerError, "internal", err.Error(), nil
	}

	status = http.StatusInternalServerError
	switch dispErr.Kind {
	case worker.KindConfigNotFound:
		status = http.StatusNotFound
	case worker.KindConfigInvalid:
		status = http.StatusUnprocessableEntity
	case worker.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	return status, dispErr.Kind, dispErr.Reason, map[string]any{"config": dispErr.ConfigName}
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error, plain bool) {
	status, kind, message, details := dispatchErrorParts(err)
	if plain {
		s.writeTextError(w, status, message)
		return
	}
	s.writeError(w, status, kind, message, details)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
