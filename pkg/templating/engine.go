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

// Package templating renders calendar HTML with Jinja2-compatible templates.
//
// Templates are compiled at engine construction so syntax errors surface
// before a generation starts. Templates in one engine share a flat namespace
// and can include each other via {% include "partial" %}.
package templating

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
)

// FilterFunc is a custom template filter: input value plus optional
// positional arguments, returning the filtered value.
type FilterFunc func(in interface{}, args ...interface{}) (interface{}, error)

// Engine holds a set of pre-compiled templates.
type Engine struct {
	rawTemplates      map[string]string
	compiledTemplates map[string]*exec.Template
}

// New compiles the given templates with the calendar filter set plus any
// extra filters. Returns a CompilationError naming the offending template if
// any fails to compile.
func New(templates map[string]string, extraFilters map[string]FilterFunc) (*Engine, error) {
	engine := &Engine{
		rawTemplates:      make(map[string]string, len(templates)),
		compiledTemplates: make(map[string]*exec.Template, len(templates)),
	}

	loader := newFlatLoader(templates)

	// TrimBlocks drops the newline after a block tag so control structures
	// on their own lines leave no blank lines. LeftStripBlocks stays off:
	// gonja strips spaces before inline tags too, which eats meaningful
	// whitespace in single-line templates.
	cfg := &config.Config{
		BlockStartString:    "{%",
		BlockEndString:      "%}",
		VariableStartString: "{{",
		VariableEndString:   "}}",
		CommentStartString:  "{#",
		CommentEndString:    "#}",
		AutoEscape:          false,
		StrictUndefined:     false,
		TrimBlocks:          true,
		LeftStripBlocks:     false,
	}

	filterMap := make(map[string]exec.FilterFunction)
	for name, f := range calendarFilters() {
		filterMap[name] = wrapFilter(f)
	}
	for name, f := range extraFilters {
		filterMap[name] = wrapFilter(f)
	}
	filters := builtins.Filters.Update(exec.NewFilterSet(filterMap))

	environment := &exec.Environment{
		Filters:           filters,
		Tests:             builtins.Tests,
		ControlStructures: builtins.ControlStructures,
		Methods:           builtins.Methods,
		Context:           builtins.GlobalFunctions,
	}

	for name, content := range templates {
		engine.rawTemplates[name] = content

		compiled, err := exec.NewTemplate(name, cfg, loader, environment)
		if err != nil {
			return nil, newCompilationError(name, content, err)
		}
		engine.compiledTemplates[name] = compiled
	}
	return engine, nil
}

// LoadDir builds an engine from every *.html file in dir, keyed by file stem.
// A template named "week" is dir/week.html.
func LoadDir(dir string, extraFilters map[string]FilterFunc) (*Engine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading template directory %q: %w", dir, err)
	}

	templates := make(map[string]string)
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".html") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading template %q: %w", de.Name(), err)
		}
		templates[strings.TrimSuffix(de.Name(), ".html")] = string(content)
	}
	return New(templates, extraFilters)
}

// Render executes the named template against the context.
func (e *Engine) Render(templateName string, context map[string]interface{}) (string, error) {
	template, exists := e.compiledTemplates[templateName]
	if !exists {
		return "", newTemplateNotFoundError(templateName, e.TemplateNames())
	}

	output, err := template.ExecuteToString(exec.NewContext(context))
	if err != nil {
		return "", newRenderError(templateName, err)
	}
	return output, nil
}

// HasTemplate reports whether a template with the given name exists.
func (e *Engine) HasTemplate(templateName string) bool {
	_, exists := e.compiledTemplates[templateName]
	return exists
}

// TemplateNames returns all template names.
func (e *Engine) TemplateNames() []string {
	names := make([]string, 0, len(e.rawTemplates))
	for name := range e.rawTemplates {
		names = append(names, name)
	}
	return names
}

// wrapFilter adapts a FilterFunc to gonja's evaluator-based signature.
func wrapFilter(f FilterFunc) exec.FilterFunction {
	return func(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		var args []interface{}
		if params != nil {
			for _, arg := range params.Args {
				args = append(args, arg.Interface())
			}
		}
		result, err := f(in.Interface(), args...)
		if err != nil {
			return exec.AsValue(err)
		}
		return exec.AsValue(result)
	}
}
