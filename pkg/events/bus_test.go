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

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishAfterStart(t *testing.T) {
	bus := NewBus(10)
	ch := bus.Subscribe(10)
	bus.Start()

	ev := NewConfigChangedEvent("kitchen", "add")
	sent := bus.Publish(ev)
	assert.Equal(t, 1, sent)

	select {
	case got := <-ch:
		assert.Equal(t, "config.changed", got.EventType())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_BuffersBeforeStart(t *testing.T) {
	bus := NewBus(10)

	// Published before Start: buffered, not delivered.
	sent := bus.Publish(NewConfigChangedEvent("kitchen", "add"))
	assert.Equal(t, 0, sent)

	ch := bus.Subscribe(10)
	bus.Start()

	select {
	case got := <-ch:
		assert.Equal(t, "config.changed", got.EventType())
	case <-time.After(time.Second):
		t.Fatal("buffered event not replayed after Start")
	}
}

func TestBus_StartIdempotent(t *testing.T) {
	bus := NewBus(10)
	ch := bus.Subscribe(10)
	bus.Publish(NewSystemEvent("kitchen", "schedule_installed", ""))
	bus.Start()
	bus.Start()

	<-ch
	select {
	case ev := <-ch:
		t.Fatalf("unexpected duplicate replay: %v", ev.EventType())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(10)
	_ = bus.Subscribe(1) // never read
	bus.Start()

	assert.Equal(t, 1, bus.Publish(NewConfigChangedEvent("a", "add")))
	// Second publish finds the buffer full and drops.
	assert.Equal(t, 0, bus.Publish(NewConfigChangedEvent("b", "add")))
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	ch1 := bus.Subscribe(10)
	ch2 := bus.Subscribe(10)
	bus.Start()

	sent := bus.Publish(NewDownloadEvent("kitchen", DownloadImage, "HIT", "cbf43926"))
	assert.Equal(t, 2, sent)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			dl, ok := got.(*DownloadEvent)
			require.True(t, ok)
			assert.Equal(t, "HIT", dl.CacheStatus)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestTimelineRecords(t *testing.T) {
	gen := NewGenerationCompletedEvent("kitchen", TriggerBoot, "cbf43926", 1024, 250, 12, "id-1")
	rec := gen.TimelineRecord()
	assert.Equal(t, TimelineGeneration, rec.Type)
	assert.Equal(t, "boot", rec.Subtype)
	assert.Equal(t, "cbf43926", rec.Metadata["crc32"])

	fail := NewGenerationFailedEvent("kitchen", TriggerScheduled, "worker timeout", "id-2")
	rec = fail.TimelineRecord()
	assert.Equal(t, TimelineError, rec.Type)
	assert.Equal(t, "generation_error", rec.Subtype)

	dl := NewDownloadEvent("kitchen", DownloadCRC32, "", "cbf43926")
	rec = dl.TimelineRecord()
	assert.Equal(t, TimelineDownload, rec.Type)
	assert.Equal(t, "crc32", rec.Subtype)

	assert.False(t, gen.Timestamp().IsZero())
}
