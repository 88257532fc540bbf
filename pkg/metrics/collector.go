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

package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"calendar2image/pkg/events"
)

const eventBufferSize = 200

// Collector translates bus events into Prometheus metrics. It subscribes at
// construction so events published before Start are buffered, not lost.
type Collector struct {
	logger  *slog.Logger
	eventCh <-chan events.Event
	stopCh  chan struct{}
	stopped chan struct{}

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	downloads          *prometheus.CounterVec
	extraDataFetches   *prometheus.CounterVec
	icsFetches         *prometheus.CounterVec
	configChanges      *prometheus.CounterVec
	ticksSkipped       *prometheus.CounterVec
}

// NewCollector registers the service's metrics on the given registry and
// subscribes to the bus.
func NewCollector(bus *events.Bus, registry prometheus.Registerer, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		logger:  logger.With("component", "metrics"),
		eventCh: bus.Subscribe(eventBufferSize),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),

		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar2image_generations_total",
			Help: "Completed and failed image generations.",
		}, []string{"config", "trigger", "outcome"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calendar2image_generation_duration_seconds",
			Help:    "Wall time of successful generations.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"config"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar2image_downloads_total",
			Help: "Responses served by the front door.",
		}, []string{"config", "kind", "cache"}),
		extraDataFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar2image_extradata_fetches_total",
			Help: "Auxiliary data fetches, refreshes, and errors.",
		}, []string{"outcome"}),
		icsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar2image_ics_fetches_total",
			Help: "Calendar source fetches and errors.",
		}, []string{"outcome"}),
		configChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar2image_config_changes_total",
			Help: "Configuration file changes seen by the watcher.",
		}, []string{"op"}),
		ticksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar2image_ticks_skipped_total",
			Help: "Scheduler ticks skipped because a generation was still running.",
		}, []string{"config"}),
	}

	registry.MustRegister(
		c.generations,
		c.generationDuration,
		c.downloads,
		c.extraDataFetches,
		c.icsFetches,
		c.configChanges,
		c.ticksSkipped,
	)
	return c
}

// Start consumes events until the context is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case event := <-c.eventCh:
			c.observe(event)
		}
	}
}

// Stop terminates the consume loop and waits for it to drain.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.stopped
}

func (c *Collector) observe(event events.Event) {
	switch e := event.(type) {
	case *events.GenerationCompletedEvent:
		c.generations.WithLabelValues(e.ConfigName, string(e.Trigger), "success").Inc()
		c.generationDuration.WithLabelValues(e.ConfigName).Observe(float64(e.DurationMs) / 1000)
	case *events.GenerationFailedEvent:
		c.generations.WithLabelValues(e.ConfigName, string(e.Trigger), "failure").Inc()
	case *events.DownloadEvent:
		cache := e.CacheStatus
		if cache == "" {
			cache = "none"
		}
		c.downloads.WithLabelValues(e.ConfigName, e.Kind, cache).Inc()
	case *events.ExtraDataEvent:
		c.extraDataFetches.WithLabelValues(e.Subtype).Inc()
	case *events.ICSEvent:
		c.icsFetches.WithLabelValues(e.Subtype).Inc()
	case *events.ConfigChangedEvent:
		c.configChanges.WithLabelValues(e.Op).Inc()
	case *events.SystemEvent:
		if e.Subtype == "tick_skipped" {
			c.ticksSkipped.WithLabelValues(e.ConfigName).Inc()
		}
	}
}
