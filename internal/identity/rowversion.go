package identity

import (
	"strconv"
	"strings"
	"time"

	"github.com/syncforge/erpsync/internal/model"
)

// extractRowVersion reads the configured source field and returns it
// as-is (nil, string, or numeric) — the comparison rules in
// CompareRowVersions decide how to interpret it.
func extractRowVersion(r model.Record, field string) any {
	if field == "" {
		return nil
	}
	return r[field]
}

// CompareRowVersions implements spec.md §4.1's comparison precedence:
// parse-as-datetime -> parse-as-number -> lexicographic string compare.
// Returns -1, 0, or 1; ok is false when either side is nil (no comparison
// possible — callers must treat that as "stored missing"/"fallback to hash").
func CompareRowVersions(a, b any) (cmp int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}

	if ta, oka := asTime(a); oka {
		if tb, okb := asTime(b); okb {
			switch {
			case ta.Before(tb):
				return -1, true
			case ta.After(tb):
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if na, oka := asNumber(a); oka {
		if nb, okb := asNumber(b); okb {
			switch {
			case na < nb:
				return -1, true
			case na > nb:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	sa, sb := asString(a), asString(b)
	return strings.Compare(sa, sb), true
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{
			time.RFC3339Nano, time.RFC3339,
			"2006-01-02T15:04:05", "2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// RowVersionToString renders a row-version value (numeric, timestamp,
// or string) as the opaque string SyncState persists as the cursor.
func RowVersionToString(v any) string {
	return asString(v)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.Format(time.RFC3339Nano)
	default:
		return normalizedString(v)
	}
}
