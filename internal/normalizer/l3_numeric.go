package normalizer

import (
	"strconv"
	"strings"

	"github.com/syncforge/erpsync/internal/model"
)

// l3NumericParse handles fields declared numeric (or auto-detected
// from digit-like strings) per spec.md §4.2 L3: strip thousands
// separators, currency symbols, and accounting-style parentheses
// negation; accept scientific notation; an unparsable value becomes
// null rather than aborting the record.
func l3NumericParse(cfg Config, r model.Record) model.Record {
	out := r.Clone()
	for k, v := range out {
		s, ok := v.(string)
		if !ok {
			continue
		}
		declaredNumeric := cfg.SourceTypes[k] == TypeNumeric
		if !declaredNumeric && !looksNumeric(s) {
			continue
		}
		if n, ok := parseNumericString(s); ok {
			out[k] = n
		} else if declaredNumeric {
			out[k] = nil
		}
	}
	return out
}

func looksNumeric(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	hasDigit := false
	for _, r := range t {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '.' || r == ',' || r == '-' || r == '+' ||
			r == '(' || r == ')' || r == '$' || r == '€' || r == '£' ||
			r == 'e' || r == 'E' || r == ' ':
		default:
			return false
		}
	}
	return hasDigit
}

func parseNumericString(s string) (any, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, false
	}

	negative := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		negative = true
		t = strings.TrimSuffix(strings.TrimPrefix(t, "("), ")")
	}

	t = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(t)
	if t == "" {
		return nil, false
	}
	if negative && !strings.HasPrefix(t, "-") {
		t = "-" + t
	}

	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		if f == float64(int64(f)) {
			return int64(f), true
		}
		return f, true
	}
	return nil, false
}
