package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	hoursNotAvailable = "Not available"
	hoursSeeDesc      = "See Description"
	hoursContact      = "Contact Store"
)

type hoursEntry struct {
	DayOfWeek json.RawMessage `json:"dayOfWeek"`
	Opens     string          `json:"opens"`
	Closes    string          `json:"closes"`
}

// FormatHours renders operating hours as "Monday, Tuesday: 10:00 - 21:00; ...".
// Missing hours are "Not available"; a list without any complete entry is
// "See Description"; free-form strings are returned as-is.
func FormatHours(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return hoursNotAvailable
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return hoursContact
		}
		if s = strings.TrimSpace(s); s == "" {
			return hoursNotAvailable
		}
		return s
	case '[':
	default:
		return hoursSeeDesc
	}

	var entries []hoursEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return hoursContact
	}
	if len(entries) == 0 {
		return hoursNotAvailable
	}

	var summary []string
	for _, e := range entries {
		days := dayNames(e.DayOfWeek)
		if len(days) == 0 || e.Opens == "" || e.Closes == "" {
			continue
		}
		summary = append(summary, fmt.Sprintf("%s: %s - %s", strings.Join(days, ", "), e.Opens, e.Closes))
	}
	if len(summary) == 0 {
		return hoursSeeDesc
	}
	return strings.Join(summary, "; ")
}

// dayNames accepts a single day or a list of days. schema.org URLs such as
// "http://schema.org/Monday" are reduced to the day name.
func dayNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var days []string
	if err := json.Unmarshal(raw, &days); err != nil {
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil
		}
		days = []string{one}
	}
	out := days[:0]
	for _, d := range days {
		d = strings.TrimSpace(d)
		if i := strings.LastIndex(d, "/"); i >= 0 {
			d = d[i+1:]
		}
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
