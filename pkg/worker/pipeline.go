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
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"calendar2image/pkg/artifact"
	"calendar2image/pkg/config"
	"calendar2image/pkg/extradata"
	"calendar2image/pkg/ics"
	"calendar2image/pkg/templating"
)

// Pipeline is the in-process generation path executed inside a worker
// process. All collaborators are wired at construction.
type Pipeline struct {
	registry     *config.Registry
	icsFetcher   *ics.Fetcher
	extraFetcher *extradata.Fetcher
	rasterizer   Rasterizer
	logger       *slog.Logger

	// now is replaceable for deterministic window tests.
	now func() time.Time
}

// NewPipeline wires a generation pipeline. The extradata cache shares the
// artifact cache directory so the service and worker processes see the same
// entries.
func NewPipeline(configDir, cacheDir string, rasterizer Rasterizer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")
	return &Pipeline{
		registry:     config.NewRegistry(configDir),
		icsFetcher:   ics.NewFetcher(logger),
		extraFetcher: extradata.New(cacheDir, logger),
		rasterizer:   rasterizer,
		logger:       logger,
		now:          time.Now,
	}
}

// Run performs one generation and never returns an error: every failure is
// folded into the Result so the parent process gets a classified outcome
// even when rendering blows up.
func (p *Pipeline) Run(ctx context.Context, name string) *Result {
	started := p.now()

	cfg, err := p.registry.Load(name)
	if err != nil {
		switch {
		case errors.Is(err, config.ErrNotFound):
			return failure(KindConfigNotFound, err)
		case errors.Is(err, config.ErrInvalidJSON), errors.Is(err, config.ErrValidation):
			return failure(KindConfigInvalid, err)
		default:
			return failure(KindInternal, err)
		}
	}

	engine, err := p.loadTemplates()
	if err != nil {
		return failure(KindTemplate, err)
	}
	if !engine.HasTemplate(cfg.Template) {
		return failure(KindTemplate, &templating.TemplateNotFoundError{
			TemplateName:       cfg.Template,
			AvailableTemplates: engine.TemplateNames(),
		})
	}

	fromDays, toDays := cfg.RecurrenceWindow()
	window := ics.WindowAround(p.now(), fromDays, toDays)

	// Calendar and auxiliary fetches run concurrently; neither can fail the
	// generation on its own.
	var (
		sources   []SourceReport
		calEvents []ics.Event
		extra     []any
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, merged := p.icsFetcher.FetchAll(gCtx, icsSources(cfg), window)
		for _, res := range results {
			report := SourceReport{URL: res.Source.URL, EventCount: len(res.Events)}
			if res.Err != nil {
				report.Error = res.Err.Error()
			}
			sources = append(sources, report)
		}
		calEvents = merged
		return nil
	})
	g.Go(func() error {
		extra = p.extraFetcher.FetchAll(gCtx, extraSources(cfg))
		return nil
	})
	_ = g.Wait()

	html, err := engine.Render(cfg.Template, p.renderContext(name, cfg, calEvents, extra))
	if err != nil {
		return p.finish(failure(KindRender, err))
	}

	img, err := p.rasterizer.Rasterize(ctx, html, RenderOptions{
		Width:     cfg.Width,
		Height:    cfg.Height,
		ImageType: cfg.ImageType,
		Grayscale: cfg.Grayscale,
		BitDepth:  cfg.BitDepth,
		Rotate:    cfg.Rotate,
	})
	if err != nil {
		return p.finish(failure(KindRasterize, err))
	}

	p.logger.Info("Generation finished",
		"config", name,
		"events", len(calEvents),
		"bytes", len(img),
		"duration", p.now().Sub(started))

	return p.finish(&Result{
		OK:          true,
		Image:       img,
		ContentType: artifact.ContentTypeFor(cfg.ImageType),
		ImageType:   cfg.ImageType,
		EventCount:  len(calEvents),
		Sources:     sources,
	})
}

// finish joins outstanding auxiliary refreshes and attaches their outcomes.
// A stale entry served during this generation is therefore re-fetched before
// the worker process exits instead of the refresh dying with it; rendering
// and rasterization overlap with the refresh, so the join usually costs
// nothing.
func (p *Pipeline) finish(result *Result) *Result {
	p.extraFetcher.Wait()
	result.ExtraData = p.extraFetcher.Reports()
	return result
}

// loadTemplates builds the engine from <config-dir>/templates. A missing
// directory yields an empty engine so the error surfaces as a template
// lookup failure naming the requested template.
func (p *Pipeline) loadTemplates() (*templating.Engine, error) {
	dir := filepath.Join(p.registry.Dir(), "templates")
	if _, err := os.Stat(dir); err != nil {
		return templating.New(nil, nil)
	}
	return templating.LoadDir(dir, nil)
}

// renderContext assembles the template variables. Timestamps are time.Time
// values; the engine's filters format them per the configured zone.
func (p *Pipeline) renderContext(name string, cfg *config.Config, calEvents []ics.Event, extra []any) map[string]interface{} {
	evs := make([]map[string]interface{}, 0, len(calEvents))
	for _, ev := range calEvents {
		evs = append(evs, map[string]interface{}{
			"uid":        ev.UID,
			"summary":    ev.Summary,
			"location":   ev.Location,
			"start":      ev.Start,
			"end":        ev.End,
			"allDay":     ev.AllDay,
			"sourceName": ev.SourceName,
		})
	}

	return map[string]interface{}{
		"configName":  name,
		"events":      evs,
		"extraData":   extra,
		"now":         p.now().UTC(),
		"timezone":    cfg.Timezone,
		"locale":      cfg.Locale,
		"width":       cfg.Width,
		"height":      cfg.Height,
		"adjustments": cfg.Adjustments,
	}
}

// icsSources maps configuration sources onto fetcher sources.
func icsSources(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.ICSURLs))
	for _, src := range cfg.ICSURLs {
		out = append(out, ics.Source{
			URL:                src.URL,
			SourceName:         src.SourceName,
			InsecureSkipVerify: !src.Verify(),
		})
	}
	return out
}

// extraSources maps configuration sources onto fetcher sources, applying the
// configuration-level TTL and header defaults.
func extraSources(cfg *config.Config) []extradata.Source {
	out := make([]extradata.Source, 0, len(cfg.ExtraDataURLs))
	for _, src := range cfg.ExtraDataURLs {
		ttl := time.Duration(cfg.ExtraDataCacheTTL) * time.Second
		if src.CacheTTL != nil {
			ttl = time.Duration(*src.CacheTTL) * time.Second
		}

		headers := make(map[string]string, len(cfg.ExtraDataHeaders)+len(src.Headers))
		for k, v := range cfg.ExtraDataHeaders {
			headers[k] = v
		}
		for k, v := range src.Headers {
			headers[k] = v
		}
		if len(headers) == 0 {
			headers = nil
		}

		out = append(out, extradata.Source{URL: src.URL, TTL: ttl, Headers: headers})
	}
	return out
}
