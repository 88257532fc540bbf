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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar2image/pkg/events"
)

func entryAt(ts time.Time, name, typ, subtype string) Entry {
	return Entry{Timestamp: ts, ConfigName: name, EventType: typ, EventSubtype: subtype}
}

func TestStore_AppendNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Now().UTC()

	require.NoError(t, s.Append(entryAt(now.Add(-time.Hour), "kitchen", "generation", "boot")))
	require.NoError(t, s.Append(entryAt(now, "kitchen", "download", "image")))

	got, err := s.Read("kitchen")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "download", got[0].EventType)
	assert.Equal(t, "generation", got[1].EventType)
}

func TestStore_RetentionOnRead(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	now := time.Now().UTC()

	require.NoError(t, s.Append(entryAt(now.Add(-25*time.Hour), "kitchen", "generation", "boot")))
	require.NoError(t, s.Append(entryAt(now.Add(-23*time.Hour), "kitchen", "generation", "scheduled")))
	require.NoError(t, s.Append(entryAt(now, "kitchen", "download", "image")))

	got, err := s.Read("kitchen")
	require.NoError(t, err)
	require.Len(t, got, 2)
	cutoff := time.Now().Add(-Retention)
	for _, e := range got {
		assert.True(t, e.Timestamp.After(cutoff), "entry %v past retention", e.Timestamp)
	}
}

// An entry exactly at the retention boundary survives; only strictly older
// entries are elided.
func TestStore_RetentionKeepsBoundaryEntry(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Now().UTC()
	s.now = func() time.Time { return now }

	boundary := now.Add(-Retention)
	require.NoError(t, s.Append(entryAt(boundary.Add(-time.Second), "kitchen", "generation", "boot")))
	require.NoError(t, s.Append(entryAt(boundary, "kitchen", "generation", "scheduled")))

	got, err := s.Read("kitchen")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(boundary), "boundary entry was elided")
}

func TestStore_RetentionRewritesFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	now := time.Now().UTC()

	require.NoError(t, s.Append(entryAt(now, "kitchen", "download", "image")))

	// Age the clock past retention; the next read prunes and rewrites.
	s.now = func() time.Time { return now.Add(25 * time.Hour) }

	got, err := s.Read("kitchen")
	require.NoError(t, err)
	assert.Empty(t, got)

	raw, err := os.ReadFile(filepath.Join(dir, "kitchen.timeline.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))
}

func TestStore_ReadMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	got, err := s.Read("nothing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_CacheFormFilename(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Append(entryAt(time.Now(), "living room", "config", "add")))
	assert.FileExists(t, filepath.Join(dir, "living_room.timeline.json"))
}

func TestComponent_PersistsRecorderEvents(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	bus := events.NewBus(10)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	comp := NewComponent(bus, store, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go comp.Start(ctx)

	bus.Start()
	bus.Publish(events.NewGenerationCompletedEvent("kitchen", events.TriggerBoot, "cbf43926", 10, 100, 3, "id"))
	// Lifecycle events without a configuration stay off timelines.
	bus.Publish(events.NewServiceStartedEvent(1))

	require.Eventually(t, func() bool {
		got, err := store.Read("kitchen")
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.Read("kitchen")
	require.NoError(t, err)
	assert.Equal(t, "generation", got[0].EventType)
	assert.Equal(t, "boot", got[0].EventSubtype)
	assert.Equal(t, "cbf43926", got[0].Metadata["crc32"])
}
