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

// Package extradata fetches auxiliary JSON endpoints for rendering, backed
// by a per-URL disk cache with TTL and stale-while-revalidate semantics.
//
// A generation is never blocked by a slow upstream: fresh entries are served
// from disk, stale entries are served immediately while a single background
// refresh per cache key updates the entry, and failures yield an empty
// document plus a recorded error outcome instead of propagating. Fetch
// outcomes accumulate as Reports; the worker process carries them back to
// the dispatcher, which publishes them on the event bus.
package extradata

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G401 -- cache key derivation, not a security boundary
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"calendar2image/pkg/atomicfile"
)

const (
	// FetchTimeout bounds every upstream HTTP request.
	FetchTimeout = 5 * time.Second

	// DefaultTTL applies when a source carries no TTL of its own.
	DefaultTTL = 300 * time.Second

	userAgent = "calendar2image/1.0"
)

// Source describes one auxiliary endpoint to fetch.
type Source struct {
	URL string

	// TTL is the maximum entry age before a background refresh is due.
	// Zero means DefaultTTL.
	TTL time.Duration

	// Headers are sent verbatim on the request (merged over the fixed
	// User-Agent and Accept headers). They also participate in the cache
	// key, so the same URL with different credentials caches separately.
	Headers map[string]string
}

// Report is one recorded fetch outcome. Worker processes have no event bus,
// so the dispatcher replays reports as events after the process exits.
type Report struct {
	URL     string `json:"url"`
	Subtype string `json:"subtype"` // "fetch", "refresh", or "error"
	Detail  string `json:"detail,omitempty"`
}

// entry is the persisted shape of one disk cache entry.
type entry struct {
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Fetcher is the shared auxiliary data fetcher. Safe for concurrent use;
// one instance is shared across all generations.
type Fetcher struct {
	dir    string
	client *http.Client
	logger *slog.Logger

	// refreshes deduplicates background refreshes per cache key: at most
	// one flight per key at any moment.
	refreshes singleflight.Group

	// refreshing joins in-flight background refreshes so a short-lived
	// process can flush them before exiting.
	refreshing sync.WaitGroup

	reportMu sync.Mutex
	reports  []Report

	// now is replaceable for TTL tests.
	now func() time.Time
}

// New creates a fetcher whose disk entries live in dir as
// extradata-<md5>.json.
func New(dir string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		dir:    dir,
		client: &http.Client{Timeout: FetchTimeout},
		logger: logger.With("component", "extradata"),
		now:    time.Now,
	}
}

// CacheKey derives the disk cache key from URL plus canonicalized headers.
// MD5 is sufficient here; the key is a filename, not a security boundary.
func CacheKey(url string, headers map[string]string) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(url)
	for _, name := range names {
		fmt.Fprintf(&b, "|%s:%s", name, headers[name])
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(b.String()))) // #nosec G401
}

func (f *Fetcher) entryPath(key string) string {
	return filepath.Join(f.dir, "extradata-"+key+".json")
}

// Fetch returns the auxiliary document for a source.
//
// Never returns an error: any failure yields an empty document and a
// recorded error outcome. A stale entry is returned immediately while a
// background refresh runs; the caller never waits past the synchronous
// first fetch.
func (f *Fetcher) Fetch(ctx context.Context, src Source) any {
	ttl := src.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := CacheKey(src.URL, src.Headers)

	cached, ok := f.readEntry(key)
	switch {
	case !ok:
		// No entry: the one synchronous path.
		data, err := f.fetchAndPersist(ctx, key, src)
		if err != nil {
			f.recordError(src, err)
			return map[string]any{}
		}
		f.record(src, "fetch", "")
		return data

	case f.now().Sub(cached.Timestamp) < ttl:
		return cached.Data

	default:
		f.refreshInBackground(key, src)
		return cached.Data
	}
}

// FetchAll fetches every source in parallel and returns results in source
// order. Generation proceeds with whatever comes back: fresh, stale, or
// empty documents.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) []any {
	results := make([]any, len(sources))

	g, gCtx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = f.Fetch(gCtx, src)
			return nil
		})
	}
	// Fetch never errors, so Wait is only a join point.
	_ = g.Wait()
	return results
}

// refreshInBackground starts a refresh for the key unless one is already in
// flight. The refresh outcome only affects later requests.
func (f *Fetcher) refreshInBackground(key string, src Source) {
	f.refreshing.Add(1)
	go func() {
		defer f.refreshing.Done()
		_, err, _ := f.refreshes.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), FetchTimeout)
			defer cancel()
			return f.fetchAndPersist(ctx, key, src)
		})
		if err != nil {
			// The stale entry stays; refresh failure is silent apart from
			// the recorded outcome and log line.
			f.logger.Debug("Background refresh failed", "url", src.URL, "error", err)
			f.record(src, "error", err.Error())
			return
		}
		f.record(src, "refresh", "")
	}()
}

// Wait blocks until every background refresh started so far has finished.
// The worker process calls this before exiting so a stale entry's refresh
// lands on disk instead of dying with the process. Each refresh is bounded
// by FetchTimeout.
func (f *Fetcher) Wait() {
	f.refreshing.Wait()
}

// Reports returns all recorded fetch outcomes in recording order.
func (f *Fetcher) Reports() []Report {
	f.reportMu.Lock()
	defer f.reportMu.Unlock()
	out := make([]Report, len(f.reports))
	copy(out, f.reports)
	return out
}

func (f *Fetcher) fetchAndPersist(ctx context.Context, key string, src Source) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %q: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for name, value := range src.Headers {
		req.Header.Set(name, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %q: unexpected status %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", src.URL, err)
	}

	data, err := decodeDocument(body)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", src.URL, err)
	}

	raw, err := json.Marshal(entry{Data: data, Timestamp: f.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding cache entry for %q: %w", src.URL, err)
	}
	if err := atomicfile.WriteFile(f.entryPath(key), raw, 0o644, false); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *Fetcher) readEntry(key string) (*entry, bool) {
	raw, err := os.ReadFile(f.entryPath(key))
	if err != nil {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	e := &entry{}
	if err := dec.Decode(e); err != nil {
		return nil, false
	}
	e.Data = normalizeNumbers(e.Data)
	return e, true
}

// decodeDocument parses upstream JSON keeping integral numbers integral, so
// a count of 7 renders in templates as "7" rather than "7.0".
func decodeDocument(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return normalizeNumbers(data), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	}
	return v
}

func (f *Fetcher) record(src Source, subtype, detail string) {
	f.reportMu.Lock()
	f.reports = append(f.reports, Report{URL: src.URL, Subtype: subtype, Detail: detail})
	f.reportMu.Unlock()
}

func (f *Fetcher) recordError(src Source, err error) {
	f.logger.Warn("Extra data fetch failed", "url", src.URL, "error", err)
	f.record(src, "error", err.Error())
}
