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

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICSSourceList_UnmarshalString(t *testing.T) {
	var l ICSSourceList
	require.NoError(t, json.Unmarshal([]byte(`"https://example.com/cal.ics"`), &l))
	require.Len(t, l, 1)
	assert.Equal(t, "https://example.com/cal.ics", l[0].URL)
	assert.True(t, l[0].Verify())
}

func TestICSSourceList_UnmarshalArray(t *testing.T) {
	data := `[
		{"url": "https://a.example/cal.ics", "sourceName": "work"},
		{"url": "https://b.example/cal.ics", "rejectUnauthorized": false}
	]`
	var l ICSSourceList
	require.NoError(t, json.Unmarshal([]byte(data), &l))
	require.Len(t, l, 2)
	assert.Equal(t, "work", l[0].SourceName)
	assert.True(t, l[0].Verify())
	assert.False(t, l[1].Verify())
}

func TestICSSourceList_UnmarshalInvalid(t *testing.T) {
	var l ICSSourceList
	assert.Error(t, json.Unmarshal([]byte(`42`), &l))
}

func TestExtraDataSourceList_UnmarshalForms(t *testing.T) {
	var l ExtraDataSourceList
	require.NoError(t, json.Unmarshal([]byte(`"https://api.example/data"`), &l))
	require.Len(t, l, 1)
	assert.Equal(t, "https://api.example/data", l[0].URL)
	assert.Nil(t, l[0].CacheTTL)

	data := `[{"url": "https://api.example/a", "cacheTtl": 60, "headers": {"Authorization": "Bearer x"}}]`
	require.NoError(t, json.Unmarshal([]byte(data), &l))
	require.Len(t, l, 1)
	require.NotNil(t, l[0].CacheTTL)
	assert.Equal(t, 60, *l[0].CacheTTL)
	assert.Equal(t, "Bearer x", l[0].Headers["Authorization"])
}

func TestConfig_RecurrenceWindow(t *testing.T) {
	var cfg Config
	from, to := cfg.RecurrenceWindow()
	assert.Equal(t, -31, from)
	assert.Equal(t, 31, to)

	zero := 0
	seven := 7
	cfg.ExpandRecurringFrom = &zero
	cfg.ExpandRecurringTo = &seven
	from, to = cfg.RecurrenceWindow()
	assert.Equal(t, 0, from, "explicit zero must not fall back to the default")
	assert.Equal(t, 7, to)
}

func TestConfig_Scheduled(t *testing.T) {
	assert.False(t, (&Config{}).Scheduled())
	assert.True(t, (&Config{PreGenerateInterval: "*/5 * * * *"}).Scheduled())
}
