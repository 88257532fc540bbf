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

package templating

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RenderSimple(t *testing.T) {
	engine, err := New(map[string]string{
		"greeting": "Hello {{ name }}!",
	}, nil)
	require.NoError(t, err)

	out, err := engine.Render("greeting", map[string]interface{}{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", out)
}

func TestEngine_CompilationErrorNamesTemplate(t *testing.T) {
	_, err := New(map[string]string{
		"good": "ok",
		"bad":  "{% for x in %}",
	}, nil)
	require.Error(t, err)

	var compErr *CompilationError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "bad", compErr.TemplateName)
}

func TestEngine_RenderUnknownTemplate(t *testing.T) {
	engine, err := New(map[string]string{"week": "x"}, nil)
	require.NoError(t, err)

	_, err = engine.Render("month", nil)
	var nfErr *TemplateNotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "month", nfErr.TemplateName)
	assert.Contains(t, nfErr.AvailableTemplates, "week")
}

// Spaces around inline block tags are content, not block indentation.
func TestEngine_InlineBlocksKeepSurroundingSpace(t *testing.T) {
	engine, err := New(map[string]string{
		"line": `a: {% if true %}b{% endif %} c`,
	}, nil)
	require.NoError(t, err)

	out, err := engine.Render("line", nil)
	require.NoError(t, err)
	assert.Equal(t, "a: b c", out)
}

func TestEngine_Includes(t *testing.T) {
	engine, err := New(map[string]string{
		"page":  `<header>{% include "title" %}</header>`,
		"title": "{{ heading }}",
	}, nil)
	require.NoError(t, err)

	out, err := engine.Render("page", map[string]interface{}{"heading": "Week 12"})
	require.NoError(t, err)
	assert.Equal(t, "<header>Week 12</header>", out)
}

func TestEngine_CalendarFilters(t *testing.T) {
	engine, err := New(map[string]string{
		"slot": `{{ start | format_time("15:04") }} on {{ start | day_key }}`,
	}, nil)
	require.NoError(t, err)

	out, err := engine.Render("slot", map[string]interface{}{
		"start": time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "09:30 on 2025-03-10", out)
}

func TestEngine_FiltersAcceptRFC3339Strings(t *testing.T) {
	engine, err := New(map[string]string{
		"slot": `{{ start | format_time("Mon", "Europe/Berlin") }}`,
	}, nil)
	require.NoError(t, err)

	// JSON round-tripped contexts carry timestamps as strings.
	out, err := engine.Render("slot", map[string]interface{}{"start": "2025-07-01T08:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "Tue", out)
}

func TestEngine_ExtraFilters(t *testing.T) {
	engine, err := New(
		map[string]string{"t": "{{ v | double }}"},
		map[string]FilterFunc{
			"double": func(in interface{}, args ...interface{}) (interface{}, error) {
				n, ok := in.(int)
				if !ok {
					return nil, assert.AnError
				}
				return n * 2, nil
			},
		},
	)
	require.NoError(t, err)

	out, err := engine.Render("t", map[string]interface{}{"v": 21})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "week.html"), []byte("week view"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "month.html"), []byte("month view"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	engine, err := LoadDir(dir, nil)
	require.NoError(t, err)

	assert.True(t, engine.HasTemplate("week"))
	assert.True(t, engine.HasTemplate("month"))
	assert.False(t, engine.HasTemplate("notes"))

	out, err := engine.Render("week", nil)
	require.NoError(t, err)
	assert.Equal(t, "week view", out)
}
