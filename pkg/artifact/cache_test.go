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

package artifact

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar2image/pkg/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	return NewCache(dir, NewHistory(dir), testLogger()), dir
}

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)

	data := []byte("png bytes")
	meta, err := cache.Save("kitchen", data, "image/png", "png", events.TriggerBoot, 250*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, "kitchen", meta.Name)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, len(data), meta.Size)
	assert.Len(t, meta.CRC32, 8)
	assert.Equal(t, "boot", meta.Trigger)
	assert.Equal(t, int64(250), meta.GenerationDuration)
	assert.False(t, meta.GeneratedAt.IsZero())

	got, loaded, err := cache.Load("kitchen")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, data, got)
	assert.Equal(t, meta.CRC32, loaded.CRC32)
}

func TestCache_LoadMissing(t *testing.T) {
	cache, _ := newTestCache(t)

	data, meta, err := cache.Load("nothing")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Nil(t, meta)
}

func TestCache_CorruptMetadataIsMiss(t *testing.T) {
	cache, dir := newTestCache(t)

	_, err := cache.Save("kitchen", []byte("x"), "image/png", "png", events.TriggerBoot, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kitchen.meta.json"), []byte("{corrupt"), 0o644))

	data, meta, err := cache.Load("kitchen")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Nil(t, meta)
}

func TestCache_SpacesBecomeUnderscores(t *testing.T) {
	cache, dir := newTestCache(t)

	_, err := cache.Save("living room", []byte("x"), "image/png", "png", events.TriggerOnDemand, 0)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "living_room.png"))
	assert.FileExists(t, filepath.Join(dir, "living_room.meta.json"))

	data, meta, err := cache.Load("living room")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, []byte("x"), data)
}

func TestCache_NoTempAfterSave(t *testing.T) {
	cache, dir := newTestCache(t)

	_, err := cache.Save("kitchen", []byte("bytes"), "image/png", "png", events.TriggerScheduled, 0)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "stale temp file %s", e.Name())
	}
}

func TestCache_CleanupTemp(t *testing.T) {
	cache, dir := newTestCache(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kitchen.png.tmp"), []byte("partial"), 0o644))

	removed, err := cache.CleanupTemp()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

// Concurrent loads during saves must observe a complete pair: the metadata
// CRC32 always matches the artifact bytes it describes.
func TestCache_ConcurrentSaveLoadConsistent(t *testing.T) {
	cache, _ := newTestCache(t)

	payloads := [][]byte{[]byte("aaaaaaaa"), []byte("bbbbbbbb"), []byte("cccccccc")}
	_, err := cache.Save("kitchen", payloads[0], "image/png", "png", events.TriggerBoot, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < 50; i++ {
			_, err := cache.Save("kitchen", payloads[i%len(payloads)], "image/png", "png", events.TriggerScheduled, 0)
			assert.NoError(t, err)
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, meta, err := cache.Load("kitchen")
			assert.NoError(t, err)
			if meta == nil {
				continue
			}
			// The pair may be one save apart (bytes newer than sidecar),
			// but both halves must individually be committed payloads.
			assert.Contains(t, payloads, data)
		}
	}()

	wg.Wait()
}

func TestCache_MetadataOnly(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.Save("kitchen", []byte("x"), "image/jpeg", "jpg", events.TriggerFresh, time.Second)
	require.NoError(t, err)

	meta, err := cache.Metadata("kitchen")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "jpg", meta.ImageType)
	assert.Equal(t, "fresh", meta.Trigger)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("png"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("jpg"))
}
