package normalizer

import (
	"strings"

	"github.com/syncforge/erpsync/internal/model"
)

// l5FieldMap applies the configured field-map rules per spec.md §4.2
// L5: rename, transform, default-substitute, and record required-field
// violations without aborting — the caller decides whether a violation
// fails the record. Source fields with no rule pass through unmapped
// under their own name.
func l5FieldMap(cfg Config, r model.Record) (model.Record, []ValidationFailure) {
	ruled := make(map[string]FieldRule, len(cfg.FieldRules))
	for _, rule := range cfg.FieldRules {
		ruled[rule.SourceField] = rule
	}

	out := make(model.Record, len(r))
	var failures []ValidationFailure

	for field, v := range r {
		rule, hasRule := ruled[field]
		if !hasRule {
			out[field] = v
			continue
		}
		target := rule.TargetField
		if target == "" {
			target = rule.SourceField
		}
		mapped := v
		if mapped == nil && rule.Default != nil {
			mapped = rule.Default
		}
		mapped = applyTransformation(mapped, rule.Transformation)
		if rule.Required && mapped == nil {
			failures = append(failures, ValidationFailure{
				Field:   rule.SourceField,
				Message: "required field is null after mapping",
			})
		}
		out[target] = mapped
	}

	for _, rule := range cfg.FieldRules {
		if _, present := r[rule.SourceField]; present {
			continue
		}
		if rule.Default == nil {
			if rule.Required {
				failures = append(failures, ValidationFailure{
					Field:   rule.SourceField,
					Message: "required field is missing from source record",
				})
			}
			continue
		}
		target := rule.TargetField
		if target == "" {
			target = rule.SourceField
		}
		out[target] = applyTransformation(rule.Default, rule.Transformation)
	}

	return out, failures
}

func applyTransformation(v any, t model.FieldTransformation) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch t {
	case model.TransformUppercase:
		return strings.ToUpper(s)
	case model.TransformLowercase:
		return strings.ToLower(s)
	case model.TransformTrim:
		return strings.TrimSpace(s)
	case model.TransformTitleCase:
		return strings.Title(strings.ToLower(s))
	case model.TransformCapitalize:
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	case model.TransformStripWhitespace:
		return strings.Join(strings.Fields(s), "")
	case model.TransformRemoveSpecialChars:
		return removeSpecialChars(s)
	default:
		return s
	}
}

func removeSpecialChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
