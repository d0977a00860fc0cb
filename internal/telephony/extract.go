package telephony

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Rule extracts one logical field from a payload path. Rules for a field are
// tried in order and the first one whose Transform succeeds wins.
type Rule[T any] struct {
	Path      string
	Transform func(any) (T, bool)
}

func Extract[T any](p Payload, rules []Rule[T]) (T, bool) {
	for _, r := range rules {
		v, ok := p.Lookup(r.Path)
		if !ok {
			continue
		}
		if out, ok := r.Transform(v); ok {
			return out, true
		}
	}
	var zero T
	return zero, false
}

func stringRules(paths ...string) []Rule[string] {
	out := make([]Rule[string], len(paths))
	for i, p := range paths {
		out[i] = Rule[string]{Path: p, Transform: AsString}
	}
	return out
}

func secondsRules(paths ...string) []Rule[int] {
	out := make([]Rule[int], len(paths))
	for i, p := range paths {
		out[i] = Rule[int]{Path: p, Transform: AsSeconds}
	}
	return out
}

func floatRules(paths ...string) []Rule[float64] {
	out := make([]Rule[float64], len(paths))
	for i, p := range paths {
		out[i] = Rule[float64]{Path: p, Transform: AsFloat}
	}
	return out
}

func timeRules(loc *time.Location, paths ...string) []Rule[time.Time] {
	out := make([]Rule[time.Time], len(paths))
	for i, p := range paths {
		out[i] = Rule[time.Time]{Path: p, Transform: func(v any) (time.Time, bool) { return AsTime(v, loc) }}
	}
	return out
}

// AsString accepts non-blank strings and numbers.
func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// AsFloat accepts numbers and numeric strings.
func AsFloat(v any) (float64, bool) {
	s, ok := AsString(v)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AsSeconds accepts plain seconds ("95", 95.4) or clock form ("00:01:35").
func AsSeconds(v any) (int, bool) {
	s, ok := AsString(v)
	if !ok {
		return 0, false
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		total := 0
		for _, part := range parts {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 {
				return 0, false
			}
			total = total*60 + n
		}
		return total, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(f + 0.5), true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02-01-2006 15:04:05",
	"2006/01/02 15:04:05",
}

// AsTime accepts RFC3339, common vendor layouts (read in loc) and unix
// seconds or milliseconds.
func AsTime(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	s, ok := AsString(v)
	if !ok {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// statusKey upper-cases and folds separators so "No Answer", "no-answer" and
// "NO_ANSWER" share one table entry.
func statusKey(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}
