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

package events

import "time"

// Trigger labels the cause of a generation.
type Trigger string

// The closed set of generation triggers.
const (
	TriggerScheduled    Trigger = "scheduled"
	TriggerBoot         Trigger = "boot"
	TriggerOnDemand     Trigger = "on_demand"
	TriggerCacheMiss    Trigger = "cache_miss"
	TriggerFresh        Trigger = "fresh"
	TriggerCRC32Check   Trigger = "crc32_check"
	TriggerConfigChange Trigger = "config_change"
)

// Timeline event types. Closed set; every persisted timeline entry carries
// one of these with a type-specific subtype.
const (
	TimelineGeneration = "generation"
	TimelineDownload   = "download"
	TimelineICS        = "ics"
	TimelineExtraData  = "extra_data"
	TimelineConfig     = "config"
	TimelineSystem     = "system"
	TimelineError      = "error"
)

// TimelineRecord is the persisted shape of an observable event.
type TimelineRecord struct {
	ConfigName string
	Type       string
	Subtype    string
	Metadata   map[string]any
}

// TimelineRecorder is implemented by events that belong on a per-configuration
// timeline. Events without a configuration (service lifecycle) do not
// implement it and are only seen by the commentator and metrics.
type TimelineRecorder interface {
	Event
	TimelineRecord() TimelineRecord
}

// BaseEvent provides the Timestamp implementation shared by all events.
type BaseEvent struct {
	At time.Time
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.At
}

func newBase() BaseEvent {
	return BaseEvent{At: time.Now().UTC()}
}

// GenerationCompletedEvent is published by the dispatcher after a generation
// has been committed to the artifact cache.
type GenerationCompletedEvent struct {
	BaseEvent
	ConfigName    string
	Trigger       Trigger
	CRC32         string
	SizeBytes     int
	DurationMs    int64
	EventCount    int
	CorrelationID string
}

// NewGenerationCompletedEvent creates a GenerationCompletedEvent.
func NewGenerationCompletedEvent(name string, trigger Trigger, crc32 string, size int, durationMs int64, eventCount int, correlationID string) *GenerationCompletedEvent {
	return &GenerationCompletedEvent{
		BaseEvent:     newBase(),
		ConfigName:    name,
		Trigger:       trigger,
		CRC32:         crc32,
		SizeBytes:     size,
		DurationMs:    durationMs,
		EventCount:    eventCount,
		CorrelationID: correlationID,
	}
}

// EventType implements Event.
func (e *GenerationCompletedEvent) EventType() string { return "generation.completed" }

// TimelineRecord implements TimelineRecorder.
func (e *GenerationCompletedEvent) TimelineRecord() TimelineRecord {
	return TimelineRecord{
		ConfigName: e.ConfigName,
		Type:       TimelineGeneration,
		Subtype:    string(e.Trigger),
		Metadata: map[string]any{
			"crc32":      e.CRC32,
			"size":       e.SizeBytes,
			"durationMs": e.DurationMs,
			"eventCount": e.EventCount,
		},
	}
}

// GenerationFailedEvent is published when a dispatch fails, times out, or the
// worker crashes. The previously cached artifact, if any, stays in place.
type GenerationFailedEvent struct {
	BaseEvent
	ConfigName    string
	Trigger       Trigger
	Reason        string
	CorrelationID string
}

// NewGenerationFailedEvent creates a GenerationFailedEvent.
func NewGenerationFailedEvent(name string, trigger Trigger, reason, correlationID string) *GenerationFailedEvent {
	return &GenerationFailedEvent{
		BaseEvent:     newBase(),
		ConfigName:    name,
		Trigger:       trigger,
		Reason:        reason,
		CorrelationID: correlationID,
	}
}

// EventType implements Event.
func (e *GenerationFailedEvent) EventType() string { return "generation.failed" }

// TimelineRecord implements TimelineRecorder.
func (e *GenerationFailedEvent) TimelineRecord() TimelineRecord {
	return TimelineRecord{
		ConfigName: e.ConfigName,
		Type:       TimelineError,
		Subtype:    "generation_error",
		Metadata: map[string]any{
			"trigger": string(e.Trigger),
			"reason":  e.Reason,
		},
	}
}

// Download kinds served by the HTTP front door.
const (
	DownloadImage        = "image"
	DownloadCRC32        = "crc32"
	DownloadCRC32History = "crc32_history"
)

// DownloadEvent is published after a response has been written to a client.
type DownloadEvent struct {
	BaseEvent
	ConfigName  string
	Kind        string
	CacheStatus string
	CRC32       string
}

// NewDownloadEvent creates a DownloadEvent.
func NewDownloadEvent(name, kind, cacheStatus, crc32 string) *DownloadEvent {
	return &DownloadEvent{
		BaseEvent:   newBase(),
		ConfigName:  name,
		Kind:        kind,
		CacheStatus: cacheStatus,
		CRC32:       crc32,
	}
}

// EventType implements Event.
func (e *DownloadEvent) EventType() string { return "download.served" }

// TimelineRecord implements TimelineRecorder.
func (e *DownloadEvent) TimelineRecord() TimelineRecord {
	md := map[string]any{"crc32": e.CRC32}
	if e.CacheStatus != "" {
		md["cache"] = e.CacheStatus
	}
	return TimelineRecord{
		ConfigName: e.ConfigName,
		Type:       TimelineDownload,
		Subtype:    e.Kind,
		Metadata:   md,
	}
}

// ConfigChangedEvent is published by the watcher integration when a
// configuration file is added, changed, or deleted.
type ConfigChangedEvent struct {
	BaseEvent
	ConfigName string
	Op         string // "add", "change", or "delete"
}

// NewConfigChangedEvent creates a ConfigChangedEvent.
func NewConfigChangedEvent(name, op string) *ConfigChangedEvent {
	return &ConfigChangedEvent{BaseEvent: newBase(), ConfigName: name, Op: op}
}

// EventType implements Event.
func (e *ConfigChangedEvent) EventType() string { return "config.changed" }

// TimelineRecord implements TimelineRecorder.
func (e *ConfigChangedEvent) TimelineRecord() TimelineRecord {
	return TimelineRecord{
		ConfigName: e.ConfigName,
		Type:       TimelineConfig,
		Subtype:    e.Op,
		Metadata:   map[string]any{},
	}
}

// SystemEvent covers scheduler and lifecycle notices tied to a configuration:
// schedule installed or cancelled, overlapping tick skipped.
type SystemEvent struct {
	BaseEvent
	ConfigName string
	Subtype    string
	Detail     string
}

// NewSystemEvent creates a SystemEvent.
func NewSystemEvent(name, subtype, detail string) *SystemEvent {
	return &SystemEvent{BaseEvent: newBase(), ConfigName: name, Subtype: subtype, Detail: detail}
}

// EventType implements Event.
func (e *SystemEvent) EventType() string { return "system." + e.Subtype }

// TimelineRecord implements TimelineRecorder.
func (e *SystemEvent) TimelineRecord() TimelineRecord {
	md := map[string]any{}
	if e.Detail != "" {
		md["detail"] = e.Detail
	}
	return TimelineRecord{
		ConfigName: e.ConfigName,
		Type:       TimelineSystem,
		Subtype:    e.Subtype,
		Metadata:   md,
	}
}

// ExtraDataEvent reports an auxiliary data fetch, background refresh, or
// fetch error.
type ExtraDataEvent struct {
	BaseEvent
	ConfigName string
	URL        string
	Subtype    string // "fetch", "refresh", or "error"
	Detail     string
}

// NewExtraDataEvent creates an ExtraDataEvent.
func NewExtraDataEvent(name, url, subtype, detail string) *ExtraDataEvent {
	return &ExtraDataEvent{BaseEvent: newBase(), ConfigName: name, URL: url, Subtype: subtype, Detail: detail}
}

// EventType implements Event.
func (e *ExtraDataEvent) EventType() string { return "extradata." + e.Subtype }

// TimelineRecord implements TimelineRecorder.
func (e *ExtraDataEvent) TimelineRecord() TimelineRecord {
	md := map[string]any{"url": e.URL}
	if e.Detail != "" {
		md["detail"] = e.Detail
	}
	return TimelineRecord{
		ConfigName: e.ConfigName,
		Type:       TimelineExtraData,
		Subtype:    e.Subtype,
		Metadata:   md,
	}
}

// ICSEvent reports a calendar fetch outcome.
type ICSEvent struct {
	BaseEvent
	ConfigName string
	URL        string
	Subtype    string // "fetch" or "error"
	EventCount int
	Detail     string
}

// NewICSEvent creates an ICSEvent.
func NewICSEvent(name, url, subtype string, eventCount int, detail string) *ICSEvent {
	return &ICSEvent{BaseEvent: newBase(), ConfigName: name, URL: url, Subtype: subtype, EventCount: eventCount, Detail: detail}
}

// EventType implements Event.
func (e *ICSEvent) EventType() string { return "ics." + e.Subtype }

// TimelineRecord implements TimelineRecorder.
func (e *ICSEvent) TimelineRecord() TimelineRecord {
	md := map[string]any{"url": e.URL, "eventCount": e.EventCount}
	if e.Detail != "" {
		md["detail"] = e.Detail
	}
	return TimelineRecord{
		ConfigName: e.ConfigName,
		Type:       TimelineICS,
		Subtype:    e.Subtype,
		Metadata:   md,
	}
}

// ServiceStartedEvent marks service startup. Not tied to a configuration,
// so it never reaches a timeline file.
type ServiceStartedEvent struct {
	BaseEvent
	ConfigCount int
}

// NewServiceStartedEvent creates a ServiceStartedEvent.
func NewServiceStartedEvent(configCount int) *ServiceStartedEvent {
	return &ServiceStartedEvent{BaseEvent: newBase(), ConfigCount: configCount}
}

// EventType implements Event.
func (e *ServiceStartedEvent) EventType() string { return "service.started" }
