package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DaySchedule is the canonical weekly schedule entry. Every accepted request
// shape is normalized into a list of these before reaching the services.
type DaySchedule struct {
	Day    int       `json:"day" validate:"min=0,max=6"`
	Active bool      `json:"active"`
	Start  TimeOfDay `json:"start"`
	End    TimeOfDay `json:"end"`
}

var dayNames = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2, "tues": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4, "thurs": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

var scheduleWrapperKeys = []string{"schedule", "weekly_schedule", "weeklySchedule", "availability", "days"}

var (
	dayKeys    = []string{"day", "day_of_week", "dayOfWeek", "weekday"}
	activeKeys = []string{"active", "is_active", "isActive", "enabled", "available"}
	startKeys  = []string{"start", "start_time", "startTime", "from"}
	endKeys    = []string{"end", "end_time", "endTime", "to"}
)

// NormalizeWeeklySchedule accepts the weekly schedule layouts clients have
// historically sent and returns canonical entries sorted by day:
//
//	[{"day":1,"active":true,"start":"16:00","end":"20:00"}]
//	[{"day_of_week":"monday","is_active":true,"start_time":"16:00:00","end_time":"20:00:00"}]
//	{"monday":{"enabled":true,"startTime":"16:00","endTime":"20:00"}}
//	{"monday":["16:00","20:00"]} or {"monday":"16:00-20:00"}
//
// Any of these may be wrapped in {"schedule": ...}.
func NormalizeWeeklySchedule(raw []byte) ([]DaySchedule, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, NewValidationError("invalid_schedule", "schedule must be valid JSON")
	}

	doc = unwrapSchedule(doc)

	var entries []DaySchedule
	switch v := doc.(type) {
	case []interface{}:
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, NewValidationError("invalid_schedule", fmt.Sprintf("schedule entry %d must be an object", i))
			}
			rawDay, found := lookup(obj, dayKeys)
			if !found {
				return nil, NewValidationError("invalid_schedule", fmt.Sprintf("schedule entry %d is missing a day", i))
			}
			day, err := parseDay(rawDay)
			if err != nil {
				return nil, err
			}
			entry, err := parseDayObject(day, obj)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	case map[string]interface{}:
		for key, value := range v {
			day, err := parseDay(key)
			if err != nil {
				return nil, err
			}
			entry, err := parseDayValue(day, value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	default:
		return nil, NewValidationError("invalid_schedule", "schedule must be a list or an object keyed by day")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Day < entries[j].Day })

	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if seen[e.Day] {
			return nil, NewValidationError("invalid_schedule", fmt.Sprintf("day %d appears more than once", e.Day))
		}
		seen[e.Day] = true

		if err := Validate(e); err != nil {
			return nil, err
		}
		if e.Active && e.End <= e.Start {
			return nil, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: end must be after start", e.Day))
		}
	}

	return entries, nil
}

func unwrapSchedule(doc interface{}) interface{} {
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return doc
	}
	for _, key := range scheduleWrapperKeys {
		if inner, found := obj[key]; found && len(obj) == 1 {
			return unwrapSchedule(inner)
		}
	}
	return doc
}

func parseDayValue(day int, value interface{}) (DaySchedule, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return parseDayObject(day, v)
	case []interface{}:
		if len(v) == 0 {
			return DaySchedule{Day: day}, nil
		}
		if len(v) != 2 {
			return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: expected [start, end]", day))
		}
		return buildEntry(day, nil, v[0], v[1])
	case string:
		if strings.TrimSpace(v) == "" {
			return DaySchedule{Day: day}, nil
		}
		parts := strings.SplitN(v, "-", 2)
		if len(parts) != 2 {
			return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: expected \"start-end\"", day))
		}
		return buildEntry(day, nil, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	case bool:
		if v {
			return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: active days need a start and end", day))
		}
		return DaySchedule{Day: day}, nil
	case nil:
		return DaySchedule{Day: day}, nil
	default:
		return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: unsupported value", day))
	}
}

func parseDayObject(day int, obj map[string]interface{}) (DaySchedule, error) {
	var active *bool
	if rawActive, found := lookup(obj, activeKeys); found {
		b, err := parseBool(rawActive)
		if err != nil {
			return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: %v", day, err))
		}
		active = &b
	}
	start, _ := lookup(obj, startKeys)
	end, _ := lookup(obj, endKeys)
	return buildEntry(day, active, start, end)
}

func buildEntry(day int, active *bool, rawStart, rawEnd interface{}) (DaySchedule, error) {
	entry := DaySchedule{Day: day}

	startStr, _ := rawStart.(string)
	endStr, _ := rawEnd.(string)
	hasTimes := startStr != "" && endStr != ""

	if active != nil {
		entry.Active = *active
	} else {
		entry.Active = hasTimes
	}

	if !hasTimes {
		if entry.Active {
			return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: active days need a start and end", day))
		}
		return entry, nil
	}

	start, err := ParseTimeOfDay(startStr)
	if err != nil {
		return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: %v", day, err))
	}
	end, err := ParseTimeOfDay(endStr)
	if err != nil {
		return DaySchedule{}, NewValidationError("invalid_schedule", fmt.Sprintf("day %d: %v", day, err))
	}
	entry.Start = start
	entry.End = end
	return entry, nil
}

func lookup(obj map[string]interface{}, keys []string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func parseDay(v interface{}) (int, error) {
	var n int
	switch d := v.(type) {
	case json.Number:
		i, err := d.Int64()
		if err != nil {
			return 0, NewValidationError("invalid_schedule", fmt.Sprintf("invalid day %q", d.String()))
		}
		n = int(i)
	case string:
		if day, ok := dayNames[strings.ToLower(strings.TrimSpace(d))]; ok {
			return day, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil {
			return 0, NewValidationError("invalid_schedule", fmt.Sprintf("invalid day %q", d))
		}
		n = i
	default:
		return 0, NewValidationError("invalid_schedule", "day must be a weekday name or number")
	}

	// ISO weekday numbering sends Sunday as 7
	if n == 7 {
		n = 0
	}
	if n < 0 || n > 6 {
		return 0, NewValidationError("invalid_schedule", fmt.Sprintf("invalid day %d", n))
	}
	return n, nil
}

func parseBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	case json.Number:
		return b.String() != "0", nil
	default:
		return false, fmt.Errorf("invalid active flag")
	}
}
