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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AppendAndRead(t *testing.T) {
	h := NewHistory(t.TempDir())

	require.NoError(t, h.Append("kitchen", "aaaaaaaa", "boot", 100))
	require.NoError(t, h.Append("kitchen", "bbbbbbbb", "scheduled", 200))

	entries, err := h.Read("kitchen")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "bbbbbbbb", entries[0].CRC32)
	assert.Equal(t, "aaaaaaaa", entries[1].CRC32)
	assert.Equal(t, "scheduled", entries[0].Trigger)
}

func TestHistory_CollapsesConsecutiveDuplicates(t *testing.T) {
	h := NewHistory(t.TempDir())

	require.NoError(t, h.Append("kitchen", "aaaaaaaa", "boot", 100))
	require.NoError(t, h.Append("kitchen", "aaaaaaaa", "scheduled", 150))
	require.NoError(t, h.Append("kitchen", "bbbbbbbb", "scheduled", 200))
	require.NoError(t, h.Append("kitchen", "aaaaaaaa", "scheduled", 120))

	entries, err := h.Read("kitchen")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// No two consecutive entries share a fingerprint.
	for i := 1; i < len(entries); i++ {
		assert.NotEqual(t, entries[i-1].CRC32, entries[i].CRC32)
	}
}

func TestHistory_ReadMissing(t *testing.T) {
	h := NewHistory(t.TempDir())
	entries, err := h.Read("nothing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistory_Runs(t *testing.T) {
	h := NewHistory(t.TempDir())

	require.NoError(t, h.Append("kitchen", "aaaaaaaa", "boot", 100))
	require.NoError(t, h.Append("kitchen", "bbbbbbbb", "scheduled", 200))
	require.NoError(t, h.Append("kitchen", "cccccccc", "scheduled", 300))

	runs, err := h.Runs("kitchen")
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Newest first; only the current run has no end time.
	assert.Equal(t, "cccccccc", runs[0].CRC32)
	assert.True(t, runs[0].EndTime.IsZero())
	assert.Equal(t, "bbbbbbbb", runs[1].CRC32)
	assert.Equal(t, runs[0].StartTime, runs[1].EndTime)
	assert.Equal(t, 1, runs[1].Count)
}

func TestHistory_ConcurrentAppendsSerialized(t *testing.T) {
	h := NewHistory(t.TempDir())

	var wg sync.WaitGroup
	crcs := []string{"11111111", "22222222", "33333333", "44444444"}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.Append("kitchen", crcs[i%len(crcs)], "scheduled", 10))
		}(i)
	}
	wg.Wait()

	entries, err := h.Read("kitchen")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for i := 1; i < len(entries); i++ {
		assert.NotEqual(t, entries[i-1].CRC32, entries[i].CRC32)
	}
}
