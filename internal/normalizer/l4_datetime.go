package normalizer

import (
	"strings"
	"time"

	"github.com/syncforge/erpsync/internal/model"
)

// orderedDatetimeLayouts is the fixed ordered list of candidate
// layouts the L4 datetime coercion stage tries: ISO first, then
// European and US variants, in the same ordered-layouts-before-
// lenient-parse style as the araddon/dateparse package.
var orderedDatetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"01-02-2006",
	time.RFC1123,
	time.RFC1123Z,
	time.ANSIC,
}

// lenientLayouts is tried only after every exact layout above fails —
// shorter/ambiguous formats that otherwise shadow a more specific match.
var lenientLayouts = []string{
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// l4DatetimeParse attempts each declared datetime field against the
// ordered layout list, then the lenient list; on success the value is
// replaced with its ISO-8601 (RFC3339) rendering, on failure the
// value is left unchanged (spec.md §4.2 L4).
func l4DatetimeParse(cfg Config, r model.Record) model.Record {
	out := r.Clone()
	for field, typ := range cfg.SourceTypes {
		if typ != TypeDateTime {
			continue
		}
		v, ok := out[field]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if parsed, ok := parseDatetime(s); ok {
			out[field] = parsed.UTC().Format(time.RFC3339)
		}
	}
	return out
}

func parseDatetime(s string) (time.Time, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return time.Time{}, false
	}
	for _, layout := range orderedDatetimeLayouts {
		if parsed, err := time.Parse(layout, t); err == nil {
			return parsed, true
		}
	}
	for _, layout := range lenientLayouts {
		if parsed, err := time.Parse(layout, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
