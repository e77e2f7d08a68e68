package normalizer

import (
	"strings"

	"github.com/syncforge/erpsync/internal/model"
)

// l2StringClean normalizes every string-valued field per spec.md §4.2
// L2: strip outer whitespace, drop C0 control characters other than
// tab/newline/carriage-return, fold CRLF/CR to LF, collapse internal
// whitespace runs per line, drop blank lines, and map an empty result
// to null.
func l2StringClean(r model.Record) model.Record {
	out := r.Clone()
	for k, v := range out {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[k] = cleanString(s)
	}
	return out
}

func cleanString(s string) any {
	s = strings.TrimSpace(s)
	s = stripControlChars(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	var kept []string
	for _, line := range lines {
		line = collapseWhitespace(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	result := strings.Join(kept, "\n")
	if result == "" {
		return nil
	}
	return result
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
