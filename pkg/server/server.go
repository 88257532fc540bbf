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

// Package server is the HTTP front door: image downloads, fingerprint and
// history endpoints, per-configuration timelines, and health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"calendar2image/pkg/artifact"
	"calendar2image/pkg/config"
	"calendar2image/pkg/events"
	"calendar2image/pkg/timeline"
	"calendar2image/pkg/worker"
)

// Generator runs one generation and returns the committed artifact. The
// server receives this capability at construction and has no other path to
// the worker machinery.
type Generator interface {
	Dispatch(ctx context.Context, name string, trigger events.Trigger) (*worker.Outcome, error)
}

// Cache status values reported in the X-Cache response header.
const (
	CacheHit      = "HIT"
	CacheMiss     = "MISS"
	CacheDisabled = "DISABLED"
	CacheBypass   = "BYPASS"
)

// Server serves the public API on the front-door port.
type Server struct {
	registry  *config.Registry
	cache     *artifact.Cache
	history   *artifact.History
	timelines *timeline.Store
	generator Generator
	bus       *events.Bus
	logger    *slog.Logger
	server    *http.Server
	started   time.Time
}

// New creates the front door. The bus may be nil in tests; download events
// are then dropped.
func New(addr string, registry *config.Registry, cache *artifact.Cache, history *artifact.History,
	timelines *timeline.Store, generator Generator, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry:  registry,
		cache:     cache,
		history:   history,
		timelines: timelines,
		generator: generator,
		bus:       bus,
		logger:    logger.With("component", "http-server"),
		started:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/", s.handleAPI)
	mux.HandleFunc("/", s.handleNotFound)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Write timeout covers a full synchronous generation.
		WriteTimeout: worker.DispatchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info("Starting HTTP server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutting down", "reason", ctx.Err())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil

	case err := <-serverErr:
		return fmt.Errorf("http server error: %w", err)
	}
}

// Handler exposes the mux for httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
