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

// Package scheduler drives pre-generation from per-configuration cron
// schedules. All cron expressions fire in UTC regardless of the
// configuration's rendering timezone.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calendar2image/pkg/config"
	"calendar2image/pkg/events"
)

// Generator runs one generation. The scheduler never touches the cache or
// worker directly; the capability is injected at construction.
type Generator func(ctx context.Context, name string, trigger events.Trigger) error

type scheduleEntry struct {
	spec string
	id   cron.EntryID
}

// Scheduler maintains one cron entry per scheduled configuration.
// Re-scheduling with an unchanged expression is a no-op; ticks that would
// overlap a still-running generation for the same configuration are skipped.
type Scheduler struct {
	registry *config.Registry
	generate Generator
	bus      *events.Bus
	logger   *slog.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[string]scheduleEntry
	running map[string]bool
}

// New creates a scheduler. Entries are installed via ScheduleAll or
// Schedule; nothing fires until Start.
func New(registry *config.Registry, generate Generator, bus *events.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		generate: generate,
		bus:      bus,
		logger:   logger.With("component", "scheduler"),
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLocation(time.UTC),
		),
		entries: make(map[string]scheduleEntry),
		running: make(map[string]bool),
	}
}

// Start runs the cron loop until the context is cancelled, then waits for
// in-flight jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Scheduler started", "entries", len(s.entries))

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped", "reason", ctx.Err())
	return nil
}

// ScheduleAll loads every configuration and installs schedules for the
// scheduled ones. Invalid configurations are skipped; their load errors are
// returned aggregated but do not block valid ones.
func (s *Scheduler) ScheduleAll() error {
	entries, err := s.registry.LoadAll()

	var loadErr *config.LoadAllError
	if err != nil && !errors.As(err, &loadErr) {
		return err
	}

	for _, entry := range entries {
		s.apply(entry.Name, entry.Config)
	}
	return err
}

// Schedule reloads the named configuration and reconciles its cron entry:
// installs a new one, replaces a changed one, or removes it when the
// configuration lost its schedule or no longer loads.
func (s *Scheduler) Schedule(name string) error {
	cfg, err := s.registry.Load(name)
	if err != nil {
		s.Cancel(name)
		return err
	}
	s.apply(name, cfg)
	return nil
}

func (s *Scheduler) apply(name string, cfg *config.Config) {
	if !cfg.Scheduled() {
		s.Cancel(name)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[name]; ok {
		if existing.spec == cfg.PreGenerateInterval {
			return
		}
		s.cron.Remove(existing.id)
	}

	id, err := s.cron.AddFunc(cfg.PreGenerateInterval, func() { s.tick(name) })
	if err != nil {
		// Validation already parsed the expression; reaching this means the
		// file changed between load and apply.
		s.logger.Error("Cannot install schedule", "config", name, "error", err)
		delete(s.entries, name)
		return
	}
	s.entries[name] = scheduleEntry{spec: cfg.PreGenerateInterval, id: id}

	s.logger.Info("Schedule installed", "config", name, "cron", cfg.PreGenerateInterval)
	s.publish(events.NewSystemEvent(name, "schedule_installed", cfg.PreGenerateInterval))
}

// Cancel removes the configuration's cron entry if present.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	existing, ok := s.entries[name]
	if ok {
		s.cron.Remove(existing.id)
		delete(s.entries, name)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("Schedule cancelled", "config", name)
		s.publish(events.NewSystemEvent(name, "schedule_cancelled", ""))
	}
}

// Scheduled returns the names with installed cron entries.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// tick runs one scheduled generation. If the previous generation for this
// configuration is still running, the tick is skipped rather than queued.
func (s *Scheduler) tick(name string) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("Skipping tick, previous generation still running", "config", name)
		s.publish(events.NewSystemEvent(name, "tick_skipped", "previous generation still running"))
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	if err := s.generate(context.Background(), name, events.TriggerScheduled); err != nil {
		// The generator already published the failure; this log line ties it
		// to the schedule.
		s.logger.Warn("Scheduled generation failed", "config", name, "error", err)
	}
}

// GenerateNow runs an immediate generation outside the cron cadence, with
// the same overlap skip as a tick.
func (s *Scheduler) GenerateNow(ctx context.Context, name string, trigger events.Trigger) error {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.publish(events.NewSystemEvent(name, "tick_skipped", "previous generation still running"))
		return nil
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	return s.generate(ctx, name, trigger)
}

// GenerateAllNow generates every scheduled configuration sequentially,
// ordered the way the registry enumerates. Used for the boot pass.
func (s *Scheduler) GenerateAllNow(ctx context.Context, trigger events.Trigger) {
	entries, err := s.registry.LoadAll()
	if err != nil {
		var loadErr *config.LoadAllError
		if !errors.As(err, &loadErr) {
			s.logger.Error("Cannot enumerate configurations", "error", err)
			return
		}
		s.logger.Warn("Some configurations failed to load", "error", err)
	}

	for _, entry := range entries {
		if !entry.Config.Scheduled() {
			continue
		}
		if err := s.GenerateNow(ctx, entry.Name, trigger); err != nil {
			s.logger.Warn("Generation failed", "config", entry.Name, "trigger", trigger, "error", err)
		}
	}
}

func (s *Scheduler) publish(event events.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}
