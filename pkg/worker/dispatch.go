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
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"calendar2image/pkg/artifact"
	"calendar2image/pkg/events"
	"calendar2image/pkg/extradata"
)

const (
	// DispatchTimeout bounds one worker process end to end.
	DispatchTimeout = 30 * time.Second

	// killGrace is how long a worker gets between SIGTERM and SIGKILL.
	killGrace = 5 * time.Second
)

// DispatchError classifies a failed generation. Kind is one of the protocol
// error kinds; the front door maps it onto an HTTP status.
type DispatchError struct {
	ConfigName string
	Kind       string
	Reason     string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("generation for %q failed (%s): %s", e.ConfigName, e.Kind, e.Reason)
}

// Outcome is a committed generation: the cached bytes plus their metadata.
type Outcome struct {
	Data []byte
	Meta *artifact.Metadata
}

// Dispatcher runs generations in child processes and commits their results
// to the artifact cache. Concurrent dispatches for the same configuration
// collapse into one worker run whose outcome all callers share.
type Dispatcher struct {
	binary    string
	configDir string
	cache     *artifact.Cache
	bus       *events.Bus
	logger    *slog.Logger
	timeout   time.Duration

	flights singleflight.Group

	// runCommand is replaceable so tests can fake the child process.
	runCommand func(ctx context.Context, name string, trigger events.Trigger, correlationID string) ([]byte, error)
}

// NewDispatcher creates a dispatcher that re-executes binary (normally
// os.Args[0]) with the "worker" subcommand.
func NewDispatcher(binary, configDir string, cache *artifact.Cache, bus *events.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		binary:    binary,
		configDir: configDir,
		cache:     cache,
		bus:       bus,
		logger:    logger.With("component", "dispatcher"),
		timeout:   DispatchTimeout,
	}
	d.runCommand = d.execWorker
	return d
}

// Dispatch runs one generation for the named configuration. If a dispatch
// for the same name is already in flight, the caller waits for that run
// instead of starting another; the first caller's trigger is the one that
// lands in metadata and history.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, trigger events.Trigger) (*Outcome, error) {
	v, err, shared := d.flights.Do(name, func() (interface{}, error) {
		return d.run(ctx, name, trigger)
	})
	if shared {
		d.logger.Debug("Dispatch joined in-flight generation", "config", name, "trigger", trigger)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

func (d *Dispatcher) run(ctx context.Context, name string, trigger events.Trigger) (*Outcome, error) {
	correlationID := uuid.NewString()
	started := time.Now()

	d.logger.Info("Dispatching generation",
		"config", name, "trigger", trigger, "correlation_id", correlationID)

	stdout, runErr := d.runCommand(ctx, name, trigger, correlationID)

	var result *Result
	if len(bytes.TrimSpace(stdout)) > 0 {
		// A worker that failed after classification still wrote a Result;
		// prefer that over the bare exit error.
		if parsed, perr := ReadResult(bytes.NewReader(stdout)); perr == nil {
			result = parsed
		}
	}

	if result == nil {
		kind := KindCrash
		reason := "worker produced no result"
		if runErr != nil {
			reason = runErr.Error()
			if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = KindTimeout
			}
		}
		return nil, d.fail(name, trigger, kind, reason, correlationID)
	}

	d.publishSourceReports(name, result.Sources)
	d.publishExtraDataReports(name, result.ExtraData)

	if !result.OK {
		kind := result.ErrorKind
		if kind == "" {
			kind = KindInternal
		}
		return nil, d.fail(name, trigger, kind, result.ErrorMessage, correlationID)
	}

	duration := time.Since(started)
	meta, err := d.cache.Save(name, result.Image, result.ContentType, result.ImageType, trigger, duration)
	if err != nil {
		return nil, d.fail(name, trigger, KindInternal, "committing artifact: "+err.Error(), correlationID)
	}

	if d.bus != nil {
		d.bus.Publish(events.NewGenerationCompletedEvent(
			name, trigger, meta.CRC32, meta.Size, duration.Milliseconds(), result.EventCount, correlationID))
	}
	d.logger.Info("Generation committed",
		"config", name, "trigger", trigger, "crc32", meta.CRC32,
		"bytes", meta.Size, "duration", duration, "correlation_id", correlationID)

	return &Outcome{Data: result.Image, Meta: meta}, nil
}

func (d *Dispatcher) fail(name string, trigger events.Trigger, kind, reason, correlationID string) error {
	d.logger.Error("Generation failed",
		"config", name, "trigger", trigger, "kind", kind,
		"reason", reason, "correlation_id", correlationID)
	if d.bus != nil {
		d.bus.Publish(events.NewGenerationFailedEvent(name, trigger, kind+": "+reason, correlationID))
	}
	return &DispatchError{ConfigName: name, Kind: kind, Reason: reason}
}

func (d *Dispatcher) publishSourceReports(name string, reports []SourceReport) {
	if d.bus == nil {
		return
	}
	for _, report := range reports {
		if report.Error != "" {
			d.bus.Publish(events.NewICSEvent(name, report.URL, "error", 0, report.Error))
			continue
		}
		d.bus.Publish(events.NewICSEvent(name, report.URL, "fetch", report.EventCount, ""))
	}
}

// publishExtraDataReports relays the worker's auxiliary fetch outcomes onto
// the bus; the worker process itself has none.
func (d *Dispatcher) publishExtraDataReports(name string, reports []extradata.Report) {
	if d.bus == nil {
		return
	}
	for _, report := range reports {
		d.bus.Publish(events.NewExtraDataEvent(name, report.URL, report.Subtype, report.Detail))
	}
}

// execWorker spawns the worker subcommand. The child gets SIGTERM on
// timeout and SIGKILL if it lingers past the grace period. Worker stderr
// passes through so its log lines interleave with the service's.
func (d *Dispatcher) execWorker(ctx context.Context, name string, trigger events.Trigger, correlationID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.binary,
		"worker", "--name", name, "--trigger", string(trigger))
	cmd.Env = append(os.Environ(),
		EnvCorrelationID+"="+correlationID,
		"CONFIG_DIR="+d.configDir,
		"CACHE_DIR="+d.cache.Dir(),
	)
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("worker timed out after %s: %w", d.timeout, context.DeadlineExceeded)
	}
	return stdout.Bytes(), err
}
