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

package timeline

import (
	"context"
	"log/slog"

	"calendar2image/pkg/events"
)

// EventBufferSize is the size of the event subscription buffer.
const EventBufferSize = 200

// Component persists bus events onto per-configuration timelines.
//
// It subscribes to the event bus during construction (before Bus.Start())
// so events published while the service assembles are replayed to it. Every
// event implementing events.TimelineRecorder is appended; persistence
// failures are logged and swallowed.
type Component struct {
	eventChan <-chan events.Event
	store     *Store
	logger    *slog.Logger
	stopCh    chan struct{}
}

// NewComponent creates the timeline persister and subscribes it to the bus.
func NewComponent(bus *events.Bus, store *Store, logger *slog.Logger) *Component {
	if logger == nil {
		logger = slog.Default()
	}
	return &Component{
		eventChan: bus.Subscribe(EventBufferSize),
		store:     store,
		logger:    logger.With("component", "timeline"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins processing events. Blocks until Stop() or context cancel;
// run it in a goroutine.
func (c *Component) Start(ctx context.Context) {
	c.logger.Info("Timeline component started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Timeline component stopped", "reason", ctx.Err())
			return
		case <-c.stopCh:
			c.logger.Info("Timeline component stopped")
			return
		case event := <-c.eventChan:
			c.persist(event)
		}
	}
}

// Stop gracefully stops the component.
func (c *Component) Stop() {
	close(c.stopCh)
}

func (c *Component) persist(event events.Event) {
	recorder, ok := event.(events.TimelineRecorder)
	if !ok {
		return
	}

	rec := recorder.TimelineRecord()
	if rec.ConfigName == "" {
		return
	}

	entry := Entry{
		Timestamp:    event.Timestamp(),
		ConfigName:   rec.ConfigName,
		EventType:    rec.Type,
		EventSubtype: rec.Subtype,
		Metadata:     rec.Metadata,
	}

	if err := c.store.Append(entry); err != nil {
		c.logger.Error("Failed to persist timeline event",
			"name", rec.ConfigName,
			"event_type", rec.Type,
			"error", err)
	}
}
