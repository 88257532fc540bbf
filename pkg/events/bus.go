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

// Package events provides the event bus that decouples the generation data
// path from observability.
//
// Handlers, the scheduler, and the worker dispatcher publish fire-and-forget
// events; the timeline persister, the metrics component, and the commentator
// subscribe. A slow or failing subscriber can never delay an HTTP response
// or a scheduled generation.
package events

import (
	"sync"
	"time"
)

// Event is the base interface for all events in the system.
type Event interface {
	// EventType returns a unique identifier for this event type.
	// Convention: dot-notation like "generation.completed" or "config.changed".
	EventType() string

	// Timestamp returns when this event occurred.
	Timestamp() time.Time
}

// Bus provides centralized pub/sub coordination for all service components.
//
// Bus is thread-safe and can be used concurrently from multiple goroutines.
//
// Startup coordination: events published before Start() is called are
// buffered and replayed after Start(). This prevents events emitted during
// component construction (boot generations, startup cleanup) from being lost
// before subscribers are wired.
type Bus struct {
	subscribers []chan Event
	mu          sync.RWMutex

	started        bool
	startMu        sync.Mutex
	preStartBuffer []Event
}

// NewBus creates a new Bus.
//
// The bus starts in buffering mode - events published before Start() will be
// buffered and replayed when Start() is invoked.
//
// The capacity parameter sets the initial buffer size for pre-start events.
func NewBus(capacity int) *Bus {
	return &Bus{
		subscribers:    make([]chan Event, 0),
		preStartBuffer: make([]Event, 0, capacity),
	}
}

// Publish sends an event to all subscribers.
//
// Before Start() the event is buffered for replay. After Start() this is a
// non-blocking operation: if a subscriber's channel is full the event is
// dropped for that subscriber, so slow consumers cannot block the data path.
//
// Returns the number of subscribers that received the event, or 0 if the
// event was buffered.
func (b *Bus) Publish(event Event) int {
	b.startMu.Lock()
	if !b.started {
		b.preStartBuffer = append(b.preStartBuffer, event)
		b.startMu.Unlock()
		return 0
	}
	b.startMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	sent := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			sent++
		default:
			// Channel full, subscriber is lagging - drop the event.
		}
	}
	return sent
}

// Subscribe creates a new subscription to the bus.
//
// The returned channel receives all events published after subscription
// (plus any replayed pre-start events). Subscribers must read continuously
// to avoid dropped events. The channel is never closed; to unsubscribe,
// stop reading and let it be collected.
func (b *Bus) Subscribe(bufferSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Start releases buffered events and switches the bus to normal operation.
//
// Call after all components have subscribed. Idempotent and safe to call
// concurrently with Publish and Subscribe.
func (b *Bus) Start() {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.started {
		return
	}
	b.started = true

	if len(b.preStartBuffer) == 0 {
		return
	}

	b.mu.RLock()
	subscribers := b.subscribers
	b.mu.RUnlock()

	for _, event := range b.preStartBuffer {
		for _, ch := range subscribers {
			select {
			case ch <- event:
			default:
				// Same drop semantics as a normal Publish.
			}
		}
	}
	b.preStartBuffer = nil
}
