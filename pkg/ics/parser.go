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

package ics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Window bounds recurrence expansion and event filtering.
type Window struct {
	From time.Time
	To   time.Time
}

// WindowAround builds a window of [today+fromDays, today+toDays] in UTC,
// each boundary snapped to midnight.
func WindowAround(now time.Time, fromDays, toDays int) Window {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{
		From: day.AddDate(0, 0, fromDays),
		To:   day.AddDate(0, 0, toDays+1),
	}
}

// Contains reports whether an event overlapping [start, end) intersects the
// window. Zero end is treated as a point event.
func (w Window) Contains(start, end time.Time) bool {
	if end.IsZero() {
		end = start
	}
	return start.Before(w.To) && !end.Before(w.From)
}

// Event is one calendar occurrence after recurrence expansion.
type Event struct {
	UID        string    `json:"uid,omitempty"`
	Summary    string    `json:"summary"`
	Location   string    `json:"location,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end,omitzero"`
	AllDay     bool      `json:"allDay"`
	SourceName string    `json:"sourceName,omitempty"`
}

type property struct {
	name   string
	params map[string]string
	value  string
}

// Parse extracts VEVENT components from raw iCalendar data, expands
// recurrence rules over the window, and returns occurrences sorted by start
// time. Components the parser cannot interpret are skipped, not fatal.
func Parse(raw []byte, window Window) ([]Event, error) {
	lines := unfold(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty calendar")
	}

	var (
		out     []Event
		inEvent bool
		props   []property
	)
	for _, line := range lines {
		switch {
		case strings.EqualFold(line, "BEGIN:VEVENT"):
			inEvent = true
			props = props[:0]
		case strings.EqualFold(line, "END:VEVENT"):
			if inEvent {
				out = append(out, buildEvent(props, window)...)
			}
			inEvent = false
		case inEvent:
			if p, ok := parseProperty(line); ok {
				props = append(props, p)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// unfold joins folded lines (continuations start with space or tab) and
// normalizes line endings.
func unfold(raw []byte) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parseProperty(line string) (property, bool) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return property{}, false
	}
	head, value := line[:colon], line[colon+1:]

	parts := strings.Split(head, ";")
	p := property{
		name:   strings.ToUpper(parts[0]),
		params: map[string]string{},
		value:  value,
	}
	for _, param := range parts[1:] {
		if k, v, ok := strings.Cut(param, "="); ok {
			p.params[strings.ToUpper(k)] = v
		}
	}
	return p, true
}

// unescape reverses RFC 5545 TEXT escaping.
func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseTime interprets DATE and DATE-TIME values, honoring a TZID parameter.
func parseTime(p property) (t time.Time, allDay bool, err error) {
	value := strings.TrimSpace(p.value)

	if p.params["VALUE"] == "DATE" || len(value) == 8 {
		t, err = time.Parse("20060102", value)
		return t, true, err
	}

	if strings.HasSuffix(value, "Z") {
		t, err = time.Parse("20060102T150405Z", value)
		return t, false, err
	}

	loc := time.UTC
	if tzid, ok := p.params["TZID"]; ok {
		if l, lerr := time.LoadLocation(tzid); lerr == nil {
			loc = l
		}
	}
	t, err = time.ParseInLocation("20060102T150405", value, loc)
	return t, false, err
}

// buildEvent assembles one VEVENT's properties into zero or more occurrences
// within the window.
func buildEvent(props []property, window Window) []Event {
	var (
		ev    Event
		rrule string
		dur   time.Duration
	)
	for _, p := range props {
		switch p.name {
		case "SUMMARY":
			ev.Summary = unescape(p.value)
		case "LOCATION":
			ev.Location = unescape(p.value)
		case "UID":
			ev.UID = p.value
		case "DTSTART":
			t, allDay, err := parseTime(p)
			if err != nil {
				return nil
			}
			ev.Start, ev.AllDay = t, allDay
		case "DTEND":
			if t, _, err := parseTime(p); err == nil {
				ev.End = t
			}
		case "RRULE":
			rrule = p.value
		}
	}
	if ev.Start.IsZero() {
		return nil
	}
	if !ev.End.IsZero() {
		dur = ev.End.Sub(ev.Start)
	}

	if rrule == "" {
		if !window.Contains(ev.Start, ev.End) {
			return nil
		}
		return []Event{ev}
	}
	return expand(ev, dur, rrule, window)
}

// expand generates occurrences for DAILY, WEEKLY, MONTHLY and YEARLY rules
// with INTERVAL, COUNT and UNTIL. Anything more exotic falls back to the
// base occurrence.
func expand(base Event, dur time.Duration, rrule string, window Window) []Event {
	parts := map[string]string{}
	for _, kv := range strings.Split(rrule, ";") {
		if k, v, ok := strings.Cut(kv, "="); ok {
			parts[strings.ToUpper(k)] = strings.ToUpper(v)
		}
	}

	interval := 1
	if v, ok := parts["INTERVAL"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = n
		}
	}

	count := -1
	if v, ok := parts["COUNT"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			count = n
		}
	}

	until := window.To
	if v, ok := parts["UNTIL"]; ok {
		if t, _, err := parseTime(property{value: v, params: map[string]string{}}); err == nil && t.Before(until) {
			until = t.Add(time.Second)
		}
	}

	var step func(time.Time, int) time.Time
	switch parts["FREQ"] {
	case "DAILY":
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }
	case "WEEKLY":
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) }
	case "MONTHLY":
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) }
	case "YEARLY":
		step = func(t time.Time, n int) time.Time { return t.AddDate(n, 0, 0) }
	default:
		if !window.Contains(base.Start, base.End) {
			return nil
		}
		return []Event{base}
	}

	var out []Event
	for i := 0; ; i++ {
		if count >= 0 && i >= count {
			break
		}
		start := step(base.Start, i*interval)
		if !start.Before(until) {
			break
		}
		occ := base
		occ.Start = start
		if dur > 0 {
			occ.End = start.Add(dur)
		}
		if window.Contains(occ.Start, occ.End) {
			out = append(out, occ)
		}
	}
	return out
}
