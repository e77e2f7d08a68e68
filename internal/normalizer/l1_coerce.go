package normalizer

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/syncforge/erpsync/internal/model"
)

// l1TypeCoercion applies the declared per-field source type, per
// spec.md §4.2 L1: string fields trim (empty -> null), numeric fields
// parse preferring integer when integral, datetime fields convert to
// an ISO-8601 string (deferred to l4 for the actual parsing so both
// layers share one format table), binary fields hex-encode, and
// boolean-like tokens map to true/false.
func l1TypeCoercion(cfg Config, raw model.Record) model.Record {
	out := raw.Clone()
	for field, typ := range cfg.SourceTypes {
		v, present := out[field]
		if !present || v == nil {
			continue
		}
		switch typ {
		case TypeString:
			out[field] = coerceString(v)
		case TypeNumeric:
			out[field] = coerceNumeric(v)
		case TypeDateTime:
			// Left as-is; l4DatetimeParse owns the actual parsing so
			// the ordered-format table is defined in one place.
		case TypeBinary:
			out[field] = coerceBinary(v)
		case TypeBoolean:
			out[field] = coerceBoolean(v)
		}
	}
	return out
}

func coerceString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func coerceNumeric(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	}
	// Separators, currency symbols and accounting parentheses are left
	// for l3NumericParse, which nulls the value if it still cannot parse.
	return s
}

func coerceBinary(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return hex.EncodeToString([]byte(s))
}

var truthy = map[string]bool{"Y": true, "TRUE": true, "T": true, "YES": true, "1": true}
var falsy = map[string]bool{"N": true, "FALSE": true, "F": true, "NO": true, "0": true}

func coerceBoolean(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		u := strings.ToUpper(strings.TrimSpace(b))
		if truthy[u] {
			return true
		}
		if falsy[u] {
			return false
		}
	}
	return nil
}
