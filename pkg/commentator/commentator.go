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

package commentator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calendar2image/pkg/events"
)

const eventBufferSize = 200

// Commentator subscribes to every bus event and emits one narrated log line
// per event, at a level matching its severity. Components stay free of
// presentation logging; this is the single place event wording lives.
type Commentator struct {
	logger  *slog.Logger
	ring    *RingBuffer
	eventCh <-chan events.Event
	stopCh  chan struct{}
	stopped chan struct{}
}

// New creates a commentator subscribed to the bus.
func New(bus *events.Bus, logger *slog.Logger, ringCapacity int) *Commentator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commentator{
		logger:  logger.With("component", "commentator"),
		ring:    NewRingBuffer(ringCapacity),
		eventCh: bus.Subscribe(eventBufferSize),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start processes events until the context is cancelled or Stop is called.
func (c *Commentator) Start(ctx context.Context) {
	defer close(c.stopped)
	c.logger.Info("Commentator started", "ring_capacity", c.ring.Capacity())

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Commentator stopped", "reason", ctx.Err())
			return
		case <-c.stopCh:
			c.logger.Info("Commentator stopped")
			return
		case event := <-c.eventCh:
			c.ring.Add(event)
			c.narrate(event)
		}
	}
}

// Stop terminates the consume loop and waits for it to drain.
func (c *Commentator) Stop() {
	close(c.stopCh)
	<-c.stopped
}

// Recent returns up to n recent events, newest first.
func (c *Commentator) Recent(n int) []events.Event {
	return c.ring.Recent(n)
}

// RecentFailures returns recent generation failures, newest first.
func (c *Commentator) RecentFailures(n int) []events.Event {
	return c.ring.RecentByPredicate(n, func(e events.Event) bool {
		_, ok := e.(*events.GenerationFailedEvent)
		return ok
	})
}

func (c *Commentator) narrate(event events.Event) {
	level, message, attrs := c.insight(event)
	c.logger.Log(context.Background(), level, message, attrs...)
}

// insight maps one event to a log level, a human sentence, and structured
// attributes.
func (c *Commentator) insight(event events.Event) (slog.Level, string, []any) {
	switch e := event.(type) {
	case *events.GenerationCompletedEvent:
		return slog.LevelInfo,
			fmt.Sprintf("Generated image for %q in %s (%s trigger, crc32 %s)",
				e.ConfigName, time.Duration(e.DurationMs)*time.Millisecond, e.Trigger, e.CRC32),
			[]any{"config", e.ConfigName, "trigger", string(e.Trigger), "crc32", e.CRC32,
				"bytes", e.SizeBytes, "events", e.EventCount, "correlation_id", e.CorrelationID}

	case *events.GenerationFailedEvent:
		return slog.LevelError,
			fmt.Sprintf("Generation for %q failed: %s", e.ConfigName, e.Reason),
			[]any{"config", e.ConfigName, "trigger", string(e.Trigger), "correlation_id", e.CorrelationID}

	case *events.DownloadEvent:
		return slog.LevelDebug,
			fmt.Sprintf("Served %s for %q (%s)", e.Kind, e.ConfigName, e.CacheStatus),
			[]any{"config", e.ConfigName, "kind", e.Kind, "cache", e.CacheStatus}

	case *events.ConfigChangedEvent:
		return slog.LevelInfo,
			fmt.Sprintf("Configuration %q changed (%s)", e.ConfigName, e.Op),
			[]any{"config", e.ConfigName, "op", e.Op}

	case *events.SystemEvent:
		level := slog.LevelInfo
		if e.Subtype == "tick_skipped" {
			level = slog.LevelWarn
		}
		return level,
			fmt.Sprintf("System notice for %q: %s", e.ConfigName, e.Subtype),
			[]any{"config", e.ConfigName, "subtype", e.Subtype, "detail", e.Detail}

	case *events.ExtraDataEvent:
		level := slog.LevelDebug
		if e.Subtype == "error" {
			level = slog.LevelWarn
		}
		return level,
			fmt.Sprintf("Extra data %s for %s", e.Subtype, e.URL),
			[]any{"config", e.ConfigName, "url", e.URL, "detail", e.Detail}

	case *events.ICSEvent:
		if e.Subtype == "error" {
			return slog.LevelWarn,
				fmt.Sprintf("Calendar fetch failed for %s: %s", e.URL, e.Detail),
				[]any{"config", e.ConfigName, "url", e.URL}
		}
		return slog.LevelDebug,
			fmt.Sprintf("Fetched %d events from %s", e.EventCount, e.URL),
			[]any{"config", e.ConfigName, "url", e.URL, "events", e.EventCount}

	case *events.ServiceStartedEvent:
		return slog.LevelInfo,
			fmt.Sprintf("Service started with %d configurations", e.ConfigCount),
			[]any{"configs", e.ConfigCount}

	default:
		return slog.LevelDebug, "Event: " + event.EventType(), nil
	}
}
