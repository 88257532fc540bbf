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

// Package service assembles the control plane: configuration registry and
// watcher, scheduler, worker dispatcher, artifact cache, timelines, event
// bus consumers, and the HTTP servers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"calendar2image/pkg/artifact"
	"calendar2image/pkg/commentator"
	"calendar2image/pkg/config"
	"calendar2image/pkg/events"
	"calendar2image/pkg/metrics"
	"calendar2image/pkg/scheduler"
	"calendar2image/pkg/server"
	"calendar2image/pkg/timeline"
	"calendar2image/pkg/watcher"
	"calendar2image/pkg/worker"
)

const (
	busCapacity         = 1000
	commentatorRingSize = 1000
)

// Options configures a Service.
type Options struct {
	ConfigDir   string
	CacheDir    string
	Addr        string // front door, e.g. ":3000"
	MetricsAddr string // e.g. ":9090"

	// WorkerBinary is the executable re-run with the "worker" subcommand,
	// normally os.Args[0].
	WorkerBinary string

	// Generator overrides the dispatcher-backed generation path. Tests use
	// this; production leaves it nil.
	Generator server.Generator

	Logger *slog.Logger
}

// Service owns every long-running component and their startup order.
type Service struct {
	opts      Options
	logger    *slog.Logger
	bus       *events.Bus
	registry  *config.Registry
	cache     *artifact.Cache
	history   *artifact.History
	timelines *timeline.Store

	timelineComp *timeline.Component
	collector    *metrics.Collector
	comment      *commentator.Commentator
	dispatcher   server.Generator
	sched        *scheduler.Scheduler
	watch        *watcher.Watcher
	httpServer   *server.Server
	metricsSrv   *metrics.Server
}

// New wires a service. Nothing runs until Run.
func New(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConfigDir == "" {
		return nil, fmt.Errorf("config directory is required")
	}
	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	s := &Service{
		opts:     opts,
		logger:   logger.With("component", "service"),
		bus:      events.NewBus(busCapacity),
		registry: config.NewRegistry(opts.ConfigDir),
	}

	s.history = artifact.NewHistory(opts.CacheDir)
	s.cache = artifact.NewCache(opts.CacheDir, s.history, logger)
	s.timelines = timeline.NewStore(opts.CacheDir)

	// Bus consumers subscribe before Start so boot-time events replay to
	// them instead of being dropped.
	s.timelineComp = timeline.NewComponent(s.bus, s.timelines, logger)
	registry := prometheus.NewRegistry()
	s.collector = metrics.NewCollector(s.bus, registry, logger)
	s.comment = commentator.New(s.bus, logger, commentatorRingSize)

	s.dispatcher = opts.Generator
	if s.dispatcher == nil {
		s.dispatcher = worker.NewDispatcher(opts.WorkerBinary, opts.ConfigDir, s.cache, s.bus, logger)
	}

	s.sched = scheduler.New(s.registry, func(ctx context.Context, name string, trigger events.Trigger) error {
		_, err := s.dispatcher.Dispatch(ctx, name, trigger)
		return err
	}, s.bus, logger)

	w, err := watcher.New(opts.ConfigDir, logger)
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	s.watch = w

	s.httpServer = server.New(opts.Addr, s.registry, s.cache, s.history, s.timelines, s.dispatcher, s.bus, logger)
	if opts.MetricsAddr != "" {
		s.metricsSrv = metrics.NewServer(opts.MetricsAddr, registry, logger)
	}
	return s, nil
}

// Run starts every component and blocks until the context is cancelled or a
// component fails.
func (s *Service) Run(ctx context.Context) error {
	// Interrupted writes from a previous run are garbage; sweep before
	// anything reads the cache directory.
	if n, err := s.cache.CleanupTemp(); err != nil {
		s.logger.Warn("Temp file sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("Removed leftover temp files", "count", n)
	}

	if err := s.sched.ScheduleAll(); err != nil {
		// Partial load failures leave the valid configurations scheduled.
		s.logger.Warn("Some configurations could not be scheduled", "error", err)
	}
	s.bus.Publish(events.NewServiceStartedEvent(len(s.sched.Scheduled())))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { s.timelineComp.Start(gCtx); return nil })
	g.Go(func() error { s.collector.Start(gCtx); return nil })
	g.Go(func() error { s.comment.Start(gCtx); return nil })
	g.Go(func() error { return s.sched.Start(gCtx) })
	g.Go(func() error { return s.watch.Start(gCtx) })
	g.Go(func() error { return s.runWatchLoop(gCtx) })
	g.Go(func() error { return s.httpServer.Start(gCtx) })
	if s.metricsSrv != nil {
		g.Go(func() error { return s.metricsSrv.Start(gCtx) })
	}

	// Consumers are subscribed and running; release buffered events.
	s.bus.Start()

	// Boot generation runs in the background so the front door is
	// responsive immediately.
	go s.sched.GenerateAllNow(gCtx, events.TriggerBoot)

	metricsAddr := "disabled"
	if s.metricsSrv != nil {
		metricsAddr = s.metricsSrv.Addr()
	}
	s.logger.Info("Service running",
		"addr", s.httpServer.Addr(),
		"metrics_addr", metricsAddr,
		"config_dir", s.opts.ConfigDir,
		"cache_dir", s.opts.CacheDir)

	return g.Wait()
}

// runWatchLoop reacts to configuration file events: reconcile the schedule,
// publish the change, and regenerate scheduled configurations immediately.
func (s *Service) runWatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.watch.Events():
			s.handleConfigEvent(ctx, ev)
		}
	}
}

func (s *Service) handleConfigEvent(ctx context.Context, ev watcher.Event) {
	s.bus.Publish(events.NewConfigChangedEvent(ev.Name, string(ev.Op)))

	if ev.Op == watcher.OpDelete {
		s.sched.Cancel(ev.Name)
		return
	}

	if err := s.sched.Schedule(ev.Name); err != nil {
		s.logger.Warn("Changed configuration does not load", "config", ev.Name, "error", err)
		return
	}

	cfg, err := s.registry.Load(ev.Name)
	if err != nil || !cfg.Scheduled() {
		return
	}
	if err := s.sched.GenerateNow(ctx, ev.Name, events.TriggerConfigChange); err != nil {
		s.logger.Warn("Regeneration after config change failed", "config", ev.Name, "error", err)
	}
}
