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
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar2image/pkg/events"
)

// syncBuffer makes a bytes.Buffer safe for the slog handler writing from
// the commentator goroutine while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCommentator_NarratesEvents(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	bus := events.NewBus(64)
	c := New(bus, logger, 100)
	bus.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	bus.Publish(events.NewGenerationCompletedEvent("kitchen", events.TriggerBoot, "cbf43926", 512, 1200, 5, "id-1"))
	bus.Publish(events.NewGenerationFailedEvent("hallway", events.TriggerScheduled, "template: boom", "id-2"))

	require.Eventually(t, func() bool {
		s := out.String()
		return bytes.Contains([]byte(s), []byte("Generated image")) &&
			bytes.Contains([]byte(s), []byte("level=ERROR"))
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCommentator_RecentAndFailures(t *testing.T) {
	bus := events.NewBus(64)
	logger := slog.New(slog.NewTextHandler(&syncBuffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	c := New(bus, logger, 10)
	bus.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	bus.Publish(events.NewGenerationCompletedEvent("a", events.TriggerBoot, "x", 1, 1, 0, ""))
	bus.Publish(events.NewGenerationFailedEvent("b", events.TriggerBoot, "boom", ""))
	bus.Publish(events.NewDownloadEvent("a", events.DownloadImage, "HIT", "x"))

	require.Eventually(t, func() bool { return c.ring.Size() == 3 }, 2*time.Second, 10*time.Millisecond)

	recent := c.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "download.served", recent[0].EventType())

	failures := c.RecentFailures(5)
	require.Len(t, failures, 1)
	assert.Equal(t, "generation.failed", failures[0].EventType())
}

func TestRingBuffer_Overwrite(t *testing.T) {
	rb := NewRingBuffer(3)
	for range 5 {
		rb.Add(events.NewSystemEvent("x", "s", ""))
	}
	assert.Equal(t, 3, rb.Size())
	assert.Len(t, rb.Recent(10), 3)
}
