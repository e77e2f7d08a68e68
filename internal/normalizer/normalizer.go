// Package normalizer implements the five-layer declarative transform
// pipeline (type coercion, string clean, numeric parse, datetime
// parse, field map) that turns a raw fetched record into a mapped
// record ready for identity stamping.
package normalizer

import (
	"github.com/syncforge/erpsync/internal/model"
)

// SourceType enumerates the declared per-field source types consumed
// by L1 type coercion.
type SourceType string

const (
	TypeString   SourceType = "string"
	TypeNumeric  SourceType = "numeric"
	TypeDateTime SourceType = "datetime"
	TypeBinary   SourceType = "binary"
	TypeBoolean  SourceType = "boolean"
)

// FieldRule is one L5 field-map entry: rename, transform, default,
// required-ness. SourceField is the key this rule reads from the
// post-L1..L4 record; TargetField is the key it writes to the mapped
// record (defaults to SourceField when empty).
type FieldRule struct {
	SourceField    string
	TargetField    string
	Transformation model.FieldTransformation
	Required       bool
	Default        any
}

// Config is the table-driven configuration for one entity's pipeline:
// the per-field source types consulted by L1, and the field-map rules
// consulted by L5. Fields with no entry in SourceTypes skip L1
// coercion; fields with no entry in FieldRules pass through unmapped
// under their own name (spec.md §4.2 L5: "default: source name").
type Config struct {
	EntityName  string
	SourceTypes map[string]SourceType
	FieldRules  []FieldRule
}

// ValidationFailure records one required-field violation surfaced by
// L5 — the pipeline does not abort on these, per spec.md §4.2; the
// caller (orchestrator VALIDATE stage) decides whether to fail the record.
type ValidationFailure struct {
	Field   string
	Message string
}

// Metrics accumulates per-stage outcome counts for a batch normalize call.
type Metrics struct {
	RowsIn       int
	RowsOut      int
	RowsFailed   int
	ValidationFailures int
}

// Result is the per-record outcome of Normalize.
type Result struct {
	Record      model.Record
	Failures    []ValidationFailure
}

// Normalize runs L1..L5 on a single raw record and returns the mapped
// record plus any required-field violations found at L5. The pipeline
// never aborts partway: every layer returns a best-effort record even
// when individual field coercions fail (those fields become nil).
func Normalize(cfg Config, raw model.Record) Result {
	r := l1TypeCoercion(cfg, raw)
	r = l2StringClean(r)
	r = l3NumericParse(cfg, r)
	r = l4DatetimeParse(cfg, r)
	mapped, failures := l5FieldMap(cfg, r)
	return Result{Record: mapped, Failures: failures}
}

// NormalizeBatch runs Normalize over a list of raw records, collecting
// metrics and per-row validation failures in the same shape as
// spec.md §4.2's "(successful_records, failure_details, metrics)".
func NormalizeBatch(cfg Config, raws []model.Record) (successful []model.Record, failureDetails map[int][]ValidationFailure, metrics Metrics) {
	metrics.RowsIn = len(raws)
	failureDetails = make(map[int][]ValidationFailure)
	for i, raw := range raws {
		res := Normalize(cfg, raw)
		successful = append(successful, res.Record)
		metrics.RowsOut++
		if len(res.Failures) > 0 {
			failureDetails[i] = res.Failures
			metrics.ValidationFailures += len(res.Failures)
		}
	}
	return successful, failureDetails, metrics
}
