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

package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar2image/pkg/artifact"
	"calendar2image/pkg/events"
	"calendar2image/pkg/extradata"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *artifact.Cache) {
	t.Helper()
	dir := t.TempDir()
	cache := artifact.NewCache(dir, artifact.NewHistory(dir), testLogger())
	d := NewDispatcher("unused-binary", t.TempDir(), cache, nil, testLogger())
	return d, cache
}

func encodeResult(t *testing.T, result *Result) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, result))
	return buf.Bytes()
}

func TestDispatcher_SuccessCommitsArtifact(t *testing.T) {
	d, cache := newTestDispatcher(t)
	d.runCommand = func(ctx context.Context, name string, trigger events.Trigger, correlationID string) ([]byte, error) {
		assert.Equal(t, "kitchen", name)
		assert.Equal(t, events.TriggerBoot, trigger)
		assert.NotEmpty(t, correlationID)
		return encodeResult(t, &Result{
			OK: true, Image: []byte("png-bytes"), ContentType: "image/png", ImageType: "png", EventCount: 2,
		}), nil
	}

	outcome, err := d.Dispatch(context.Background(), "kitchen", events.TriggerBoot)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), outcome.Data)
	assert.Equal(t, "boot", outcome.Meta.Trigger)
	assert.Len(t, outcome.Meta.CRC32, 8)

	data, meta, err := cache.Load("kitchen")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestDispatcher_WorkerReportedFailure(t *testing.T) {
	d, cache := newTestDispatcher(t)
	d.runCommand = func(context.Context, string, events.Trigger, string) ([]byte, error) {
		// A classified failure exits non-zero but still writes a Result.
		return encodeResult(t, failure(KindTemplate, errors.New("template 'month' not found"))), errors.New("exit status 1")
	}

	_, err := d.Dispatch(context.Background(), "kitchen", events.TriggerOnDemand)
	var dispErr *DispatchError
	require.ErrorAs(t, err, &dispErr)
	assert.Equal(t, KindTemplate, dispErr.Kind)

	// A failed generation must not touch the cache.
	data, meta, loadErr := cache.Load("kitchen")
	require.NoError(t, loadErr)
	assert.Nil(t, data)
	assert.Nil(t, meta)
}

func TestDispatcher_CrashWithoutResult(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.runCommand = func(context.Context, string, events.Trigger, string) ([]byte, error) {
		return []byte("panic: runtime error"), errors.New("exit status 2")
	}

	_, err := d.Dispatch(context.Background(), "kitchen", events.TriggerScheduled)
	var dispErr *DispatchError
	require.ErrorAs(t, err, &dispErr)
	assert.Equal(t, KindCrash, dispErr.Kind)
}

func TestDispatcher_TimeoutKind(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.runCommand = func(context.Context, string, events.Trigger, string) ([]byte, error) {
		return nil, context.DeadlineExceeded
	}

	_, err := d.Dispatch(context.Background(), "kitchen", events.TriggerScheduled)
	var dispErr *DispatchError
	require.ErrorAs(t, err, &dispErr)
	assert.Equal(t, KindTimeout, dispErr.Kind)
}

// Concurrent dispatches for one name share a single worker run.
func TestDispatcher_CollapsesConcurrentDispatches(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var runs atomic.Int32
	release := make(chan struct{})
	d.runCommand = func(context.Context, string, events.Trigger, string) ([]byte, error) {
		runs.Add(1)
		<-release
		return encodeResult(t, &Result{OK: true, Image: []byte("x"), ContentType: "image/png", ImageType: "png"}), nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), "kitchen", events.TriggerOnDemand)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
}

func TestDispatcher_PublishesGenerationEvents(t *testing.T) {
	dir := t.TempDir()
	cache := artifact.NewCache(dir, artifact.NewHistory(dir), testLogger())
	bus := events.NewBus(16)
	sub := bus.Subscribe(16)
	bus.Start()

	d := NewDispatcher("unused-binary", t.TempDir(), cache, bus, testLogger())
	d.runCommand = func(context.Context, string, events.Trigger, string) ([]byte, error) {
		return encodeResult(t, &Result{
			OK: true, Image: []byte("x"), ContentType: "image/png", ImageType: "png",
			Sources:   []SourceReport{{URL: "https://cal.example/a.ics", EventCount: 4}},
			ExtraData: []extradata.Report{{URL: "https://api.example/weather", Subtype: "refresh"}},
		}), nil
	}

	_, err := d.Dispatch(context.Background(), "kitchen", events.TriggerBoot)
	require.NoError(t, err)

	seen := map[string]bool{}
	for range 3 {
		select {
		case ev := <-sub:
			seen[ev.EventType()] = true
		case <-time.After(time.Second):
			t.Fatal("expected three published events")
		}
	}
	assert.True(t, seen["ics.fetch"])
	assert.True(t, seen["extradata.refresh"])
	assert.True(t, seen["generation.completed"])
}
