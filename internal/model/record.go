// Package model defines the shared domain types that flow through the
// synchronization pipeline: in-flight Records and the seven persisted
// entities (EntityConfig, FieldMapping, SyncBatch, FailedRecord,
// PendingChild, SyncState, BackgroundSchedule).
package model

import "time"

// Reserved field names stamped onto a Record by the Identity stage.
const (
	FieldKeyHash    = "erp_key_hash"
	FieldDataHash   = "erp_data_hash"
	FieldRowVersion = "erp_rowversion"
	FieldRefStr     = "erp_ref_str"
	FieldParentRefs = "parent_refs"
)

// Record is an unordered field-name -> scalar-value mapping. Scalar
// values are restricted to string, int64, float64, bool, time.Time, or
// nil. Composite values (used only transiently, e.g. raw JSON payloads
// prior to L1 coercion) may appear as map[string]any or []any.
type Record map[string]any

// Clone returns a shallow copy of r — sufficient since values are scalars.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// BusinessKeyHash returns the stamped BK, or "" if absent.
func (r Record) BusinessKeyHash() string {
	v, _ := r[FieldKeyHash].(string)
	return v
}

// DataHash returns the stamped DH, or "" if absent.
func (r Record) DataHash() string {
	v, _ := r[FieldDataHash].(string)
	return v
}

// RowVersion returns the stamped row-version, which may be nil, a
// string, or a numeric type depending on the source field's type.
func (r Record) RowVersion() any {
	return r[FieldRowVersion]
}

// ParentRefs returns the parent_refs map, or nil if the record has not
// yet been through the PARENT_REFS stage.
func (r Record) ParentRefs() map[string]*string {
	v, ok := r[FieldParentRefs].(map[string]*string)
	if !ok {
		return nil
	}
	return v
}

// DeltaOp classifies a record against sink state (spec.md §4.3).
type DeltaOp string

const (
	OpInsert DeltaOp = "insert"
	OpUpdate DeltaOp = "update"
	OpSkip   DeltaOp = "skip"
	OpDelete DeltaOp = "delete"
)

// DeltaRecord pairs a Record with its classification and, for
// UPDATE/DELETE, the sink-assigned uid it must target.
type DeltaRecord struct {
	Op        DeltaOp
	Record    Record
	SinkUID   string // populated for update/delete
	BKHash    string
}

// StoredRecordState is the minimal sink-side projection the Delta
// engine needs: identity fingerprints plus the sink's own uid.
type StoredRecordState struct {
	UID        string `json:"uid"`
	KeyHash    string `json:"erp_key_hash"`
	DataHash   string `json:"erp_data_hash"`
	RowVersion any    `json:"erp_rowversion"`
}

// SyncType enumerates spec.md §3's SyncBatch.sync_type.
type SyncType string

const (
	SyncFull         SyncType = "full"
	SyncIncremental  SyncType = "incremental"
	SyncBackground   SyncType = "background"
)

// BatchStatus enumerates spec.md §3's SyncBatch.status; transitions are
// monotonic: pending -> running -> {completed|failed|cancelled}.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// BatchMetrics accumulates per-stage counters for a SyncBatch.
type BatchMetrics struct {
	RowsFetched    int `json:"rows_fetched"`
	RowsNormalized int `json:"rows_normalized"`
	RowsValidated  int `json:"rows_validated"`
	RowsMapped     int `json:"rows_mapped"`
	RowsInserted   int `json:"rows_inserted"`
	RowsUpdated    int `json:"rows_updated"`
	RowsDeleted    int `json:"rows_deleted"`
	RowsFailed     int `json:"rows_failed"`
}

// SuccessRate returns the fraction of fetched rows that reached a
// terminal non-failed state, in [0, 1]. Returns 0 when nothing was fetched.
func (m BatchMetrics) SuccessRate() float64 {
	if m.RowsFetched == 0 {
		return 0
	}
	ok := m.RowsInserted + m.RowsUpdated + m.RowsDeleted
	return float64(ok) / float64(m.RowsFetched)
}

// SyncBatch is the persisted record of one orchestrator run.
type SyncBatch struct {
	UID          string       `db:"uid" json:"uid"`
	EntityName   string       `db:"entity_name" json:"entity_name"`
	SyncType     SyncType     `db:"sync_type" json:"sync_type"`
	SourceSystem string       `db:"source_system" json:"source_system"`
	StartedAt    time.Time    `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	Status       BatchStatus  `db:"status" json:"status"`
	Metrics      BatchMetrics `db:"metrics" json:"metrics"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
}

// FailedRecord is a dead-letter entry: a record that could not be
// carried through to completion at some pipeline stage.
type FailedRecord struct {
	UID            string     `db:"uid" json:"uid"`
	BatchUID       string     `db:"batch_uid" json:"batch_uid"`
	EntityName     string     `db:"entity_name" json:"entity_name"`
	RawData        Record     `db:"raw_data" json:"raw_data"`
	NormalizedData Record     `db:"normalized_data" json:"normalized_data,omitempty"`
	MappedData     Record     `db:"mapped_data" json:"mapped_data,omitempty"`
	StageFailed    string     `db:"stage_failed" json:"stage_failed"`
	ErrorType      string     `db:"error_type" json:"error_type"`
	ErrorMessage   string     `db:"error_message" json:"error_message"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	MaxRetries     int        `db:"max_retries" json:"max_retries"`
	NextRetryAt    *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Retryable reports whether the failed record is eligible for replay.
func (f FailedRecord) Retryable() bool {
	return f.RetryCount < f.MaxRetries && f.ResolvedAt == nil
}

// DefaultFailedRecordMaxRetries is spec.md §3's default of 3.
const DefaultFailedRecordMaxRetries = 3

// PendingChild is a record awaiting resolution of a missing parent.
type PendingChild struct {
	UID          string     `db:"uid" json:"uid"`
	BatchUID     string     `db:"batch_uid" json:"batch_uid"`
	ChildEntity  string     `db:"child_entity" json:"child_entity"`
	ParentEntity string     `db:"parent_entity" json:"parent_entity"`
	ParentBKHash string     `db:"parent_bk_hash" json:"parent_bk_hash"`
	ChildPayload Record     `db:"child_payload" json:"child_payload"`
	RetryCount   int        `db:"retry_count" json:"retry_count"`
	MaxRetries   int        `db:"max_retries" json:"max_retries"`
	NextRetryAt  *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ResolvedAt   *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// DefaultPendingChildMaxRetries is spec.md §3's default of 5.
const DefaultPendingChildMaxRetries = 5

// Retryable reports whether the pending child is eligible for another attempt.
func (p PendingChild) Retryable(now time.Time) bool {
	if p.ResolvedAt != nil || p.RetryCount >= p.MaxRetries {
		return false
	}
	return p.NextRetryAt == nil || !p.NextRetryAt.After(now)
}

// SyncState is the per (entity, source_system) cursor.
type SyncState struct {
	EntityName         string     `db:"entity_name" json:"entity_name"`
	SourceSystem       string     `db:"source_system" json:"source_system"`
	LastSyncRowVersion *string    `db:"last_sync_rowversion" json:"last_sync_rowversion,omitempty"`
	LastSyncTimestamp  *time.Time `db:"last_sync_timestamp" json:"last_sync_timestamp,omitempty"`
	LastBatchUID       *string    `db:"last_batch_uid" json:"last_batch_uid,omitempty"`
}

// ParentRefConfig describes one declared parent reference (spec.md §3).
type ParentRefConfig struct {
	ParentEntity string `json:"parent_entity"`
	ParentField  string `json:"parent_field"`
	ChildField   string `json:"child_field"`
}

// EntityConfig is the operator-owned configuration of a syncable entity.
type EntityConfig struct {
	EntityName       string                     `db:"entity_name" json:"entity_name"`
	SourceAPISlug    string                     `db:"source_api_slug" json:"source_api_slug"`
	BusinessKeyFields []string                  `db:"business_key_fields" json:"business_key_fields"`
	SyncEnabled      bool                       `db:"sync_enabled" json:"sync_enabled"`
	SyncSchedule     *string                    `db:"sync_schedule" json:"sync_schedule,omitempty"`
	ParentRefsConfig map[string]ParentRefConfig `db:"parent_refs_config" json:"parent_refs_config,omitempty"`
}

// FieldTransformation enumerates spec.md §3's FieldMapping.transformation.
type FieldTransformation string

const (
	TransformNone               FieldTransformation = "none"
	TransformUppercase          FieldTransformation = "uppercase"
	TransformLowercase          FieldTransformation = "lowercase"
	TransformTrim               FieldTransformation = "trim"
	TransformTitleCase          FieldTransformation = "title_case"
	TransformCapitalize         FieldTransformation = "capitalize"
	TransformStripWhitespace    FieldTransformation = "strip_whitespace"
	TransformRemoveSpecialChars FieldTransformation = "remove_special_chars"
)

// FieldMapping is one declarative source->target field rule.
type FieldMapping struct {
	EntityName     string              `db:"entity_name" json:"entity_name"`
	SourceField    string              `db:"source_field" json:"source_field"`
	TargetField    string              `db:"target_field" json:"target_field"`
	Transformation FieldTransformation `db:"transformation" json:"transformation"`
	IsRequired     bool                `db:"is_required" json:"is_required"`
	DefaultValue   any                 `db:"default_value" json:"default_value,omitempty"`
}

// BackgroundSchedule is the operator-owned multi-day backfill configuration.
type BackgroundSchedule struct {
	UID               string     `db:"uid" json:"uid"`
	EntityName        string     `db:"entity_name" json:"entity_name"`
	SourceSystem      string     `db:"source_system" json:"source_system"`
	IsEnabled         bool       `db:"is_enabled" json:"is_enabled"`
	SyncWindowStart   string     `db:"sync_window_start" json:"sync_window_start"` // "HH:MM:SS"
	SyncWindowEnd     string     `db:"sync_window_end" json:"sync_window_end"`
	DaysToComplete    int        `db:"days_to_complete" json:"days_to_complete"`
	RowsPerDay        *int       `db:"rows_per_day" json:"rows_per_day,omitempty"`
	TotalRowsEstimate *int       `db:"total_rows_estimate" json:"total_rows_estimate,omitempty"`
	CurrentOffset     int        `db:"current_offset" json:"current_offset"`
	LastRunAt         *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt         *time.Time `db:"next_run_at" json:"next_run_at,omitempty"`
}

// Complete reports whether the backfill has consumed its estimated row count.
func (b BackgroundSchedule) Complete() bool {
	return b.TotalRowsEstimate != nil && b.CurrentOffset >= *b.TotalRowsEstimate
}
