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

// Package commentator turns bus events into narrated log lines, keeping a
// ring of recent events for correlation.
package commentator

import (
	"sync"

	"calendar2image/pkg/events"
)

// RingBuffer holds the most recent events in arrival order.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []events.Event
	head     int
	size     int
	capacity int
}

// NewRingBuffer creates a buffer holding up to capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		events:   make([]events.Event, capacity),
		capacity: capacity,
	}
}

// Add appends an event, overwriting the oldest once full.
func (rb *RingBuffer) Add(event events.Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// Recent returns up to n most recent events, newest first.
func (rb *RingBuffer) Recent(n int) []events.Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.size {
		n = rb.size
	}
	result := make([]events.Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.capacity) % rb.capacity
		result = append(result, rb.events[idx])
	}
	return result
}

// RecentByPredicate returns up to maxCount recent events matching the
// predicate, newest first.
func (rb *RingBuffer) RecentByPredicate(maxCount int, predicate func(events.Event) bool) []events.Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]events.Event, 0, maxCount)
	for i := 0; i < rb.size && len(result) < maxCount; i++ {
		idx := (rb.head - 1 - i + rb.capacity) % rb.capacity
		if predicate(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Size returns the current number of buffered events.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the buffer capacity.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
