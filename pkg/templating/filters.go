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
	"fmt"
	"time"
)

// calendarFilters returns the filter set every engine carries. Filters
// accept both time.Time values and RFC 3339 strings so templates work the
// same whether the context was built in-process or round-tripped as JSON.
func calendarFilters() map[string]FilterFunc {
	return map[string]FilterFunc{
		"format_time": FormatTime,
		"day_key":     DayKey,
	}
}

// asTime coerces a filter input into a time.Time.
func asTime(in interface{}) (time.Time, error) {
	switch v := in.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing time %q: %w", v, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("expected time or RFC 3339 string, got %T", in)
	}
}

// FormatTime formats a timestamp with a Go reference layout, optionally in
// a named zone.
//
//	{{ event.start | format_time("15:04") }}
//	{{ event.start | format_time("Mon 02 Jan", "Europe/Berlin") }}
func FormatTime(in interface{}, args ...interface{}) (interface{}, error) {
	t, err := asTime(in)
	if err != nil {
		return nil, fmt.Errorf("format_time: %w", err)
	}

	layout := time.RFC3339
	if len(args) > 0 {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("format_time: layout must be a string, got %T", args[0])
		}
		layout = s
	}

	if len(args) > 1 {
		zone, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("format_time: timezone must be a string, got %T", args[1])
		}
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("format_time: %w", err)
		}
		t = t.In(loc)
	}
	return t.Format(layout), nil
}

// DayKey reduces a timestamp to its calendar day as "2006-01-02", the key
// templates group events under.
//
//	{% if event.start | day_key == day.date %}
func DayKey(in interface{}, args ...interface{}) (interface{}, error) {
	t, err := asTime(in)
	if err != nil {
		return nil, fmt.Errorf("day_key: %w", err)
	}
	if len(args) > 0 {
		zone, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("day_key: timezone must be a string, got %T", args[0])
		}
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("day_key: %w", err)
		}
		t = t.In(loc)
	}
	return t.Format("2006-01-02"), nil
}
