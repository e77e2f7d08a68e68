// Package orchestrator drives the nine-stage synchronization pipeline
// per run: FETCH, NORMALIZE, VALIDATE, MAP, IDENTITY, PARENT_REFS,
// DELTA, RESOLVE, INGEST, TRACK.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/syncforge/erpsync/internal/delta"
	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/identity"
	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/normalizer"
	"github.com/syncforge/erpsync/internal/resolver"
	"github.com/syncforge/erpsync/internal/sinkclient"
	"github.com/syncforge/erpsync/internal/sourceclient"
)

// SourceFetcher is the subset of sourceclient.Client the orchestrator
// depends on — narrowed to an interface so tests can substitute a fake
// source, matching the harness-over-fakes approach used elsewhere in
// the pack's integration tests.
type SourceFetcher interface {
	FetchPage(ctx context.Context, p sourceclient.FetchParams) (*sourceclient.Page, error)
}

// SinkWriter is the subset of sinkclient.Client the orchestrator and
// resolver depend on.
type SinkWriter interface {
	GetByBKHash(ctx context.Context, entity, bkHash string) (*model.StoredRecordState, error)
	GetBatchByBKHashes(ctx context.Context, entity string, bkHashes []string) (map[string]model.StoredRecordState, error)
	Insert(ctx context.Context, entity string, record model.Record) (string, error)
	Update(ctx context.Context, entity, uid string, record model.Record) error
	BatchInsert(ctx context.Context, entity string, records []model.Record) []sinkclient.BatchResult
	BatchUpdate(ctx context.Context, entity string, uids []string, records []model.Record) []sinkclient.BatchResult
	BatchDelete(ctx context.Context, entity string, uids []string) []sinkclient.BatchResult
	resolver.ExistenceChecker
}

// StateStore is the subset of internal/store's repositories the
// orchestrator needs to persist batch results.
type StateStore interface {
	GetSyncState(ctx context.Context, entityName, sourceSystem string) (*model.SyncState, error)
	UpsertSyncState(ctx context.Context, state model.SyncState) error
	CreateBatch(ctx context.Context, batch *model.SyncBatch) error
	UpdateBatch(ctx context.Context, batch *model.SyncBatch) error
	SaveFailedRecord(ctx context.Context, fr model.FailedRecord) error
	SavePendingChild(ctx context.Context, pc model.PendingChild) error
}

// Orchestrator runs synchronization for one entity against one
// (source, sink, store) triple.
type Orchestrator struct {
	Source SourceFetcher
	Sink   SinkWriter
	Store  StateStore
}

// New constructs an Orchestrator.
func New(source SourceFetcher, sink SinkWriter, store StateStore) *Orchestrator {
	return &Orchestrator{Source: source, Sink: sink, Store: store}
}

// RunParams is the per-run input to RunSync, corresponding to
// spec.md §4.5's "(entity_name, source_api_slug, business_key_fields,
// sync_type, page_size, max_pages?)".
type RunParams struct {
	Entity          model.EntityConfig
	NormalizerCfg   normalizer.Config
	RowVersionField string
	SourceSystem    string
	SyncType        model.SyncType
	PageSize        int
	MaxPages        int // 0 means unbounded
	StartPage       int // 0 defaults to 1; background slices resume mid-range
	DeltaStrategy   delta.Strategy
	BatchUID        string // caller-assigned; generated if empty (lets HTTP callers know the uid before the run completes)
}

// RunSync executes the full nine-stage pipeline for one entity and
// returns the completed (or failed) batch.
func (o *Orchestrator) RunSync(ctx context.Context, p RunParams) (*model.SyncBatch, error) {
	batchUID := p.BatchUID
	if batchUID == "" {
		batchID, err := uuid.NewV7()
		if err != nil {
			return nil, errkind.Newf(errkind.SyncExecution, "generate batch uid: %v", err)
		}
		batchUID = batchID.String()
	}
	batch := &model.SyncBatch{
		UID:          batchUID,
		EntityName:   p.Entity.EntityName,
		SyncType:     p.SyncType,
		SourceSystem: p.SourceSystem,
		StartedAt:    time.Now().UTC(),
		Status:       model.BatchRunning,
	}
	if err := o.Store.CreateBatch(ctx, batch); err != nil {
		return nil, errkind.Newf(errkind.SyncExecution, "create batch: %v", err)
	}

	if err := o.runStages(ctx, p, batch); err != nil {
		msg := err.Error()
		batch.ErrorMessage = &msg
		batch.Status = model.BatchFailed
	} else {
		batch.Status = model.BatchCompleted
	}
	completedAt := time.Now().UTC()
	batch.CompletedAt = &completedAt

	if updateErr := o.Store.UpdateBatch(ctx, batch); updateErr != nil {
		slog.Error("update batch failed", "batch_uid", batch.UID, "err", updateErr)
	}
	return batch, nil
}

func (o *Orchestrator) runStages(ctx context.Context, p RunParams, batch *model.SyncBatch) error {
	// --- stage 1/9: FETCH ---
	slog.Info("[stage 1/9] fetch", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	raws, err := o.fetch(ctx, p)
	if err != nil {
		return errkind.Newf(errkind.Connection, "fetch: %v", err)
	}
	batch.Metrics.RowsFetched = len(raws)

	// --- stage 2/9: NORMALIZE ---
	slog.Info("[stage 2/9] normalize", "entity", p.Entity.EntityName, "batch_uid", batch.UID, "rows", len(raws))
	normalized, failureDetails, normMetrics := normalizer.NormalizeBatch(p.NormalizerCfg, raws)
	batch.Metrics.RowsNormalized = normMetrics.RowsOut

	// --- stage 3/9: VALIDATE (required-field violations surfaced by L5 land here) ---
	slog.Info("[stage 3/9] validate", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	validated := make([]model.Record, 0, len(normalized))
	for i, r := range normalized {
		if failures, failed := failureDetails[i]; failed {
			o.recordFailure(ctx, batch, raws[i], r, r, "validate", failures)
			continue
		}
		validated = append(validated, r)
	}
	batch.Metrics.RowsValidated = len(validated)

	// --- stage 4/9: MAP (metrics checkpoint; L5 already ran inside NORMALIZE) ---
	slog.Info("[stage 4/9] map", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	batch.Metrics.RowsMapped = len(validated)

	// --- stage 5/9: IDENTITY ---
	slog.Info("[stage 5/9] identity", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	stamped := make([]model.Record, 0, len(validated))
	for _, r := range validated {
		s, err := identity.Stamp(p.Entity.EntityName, r, p.Entity.BusinessKeyFields, p.RowVersionField)
		if err != nil {
			o.recordFailure(ctx, batch, r, r, model.Record{}, "identity", []normalizer.ValidationFailure{
				{Field: "business_key", Message: err.Error()},
			})
			continue
		}
		stamped = append(stamped, s)
	}

	// --- stage 6/9: PARENT_REFS ---
	slog.Info("[stage 6/9] parent_refs", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	withParentRefs := make([]model.Record, 0, len(stamped))
	for _, r := range stamped {
		withRefs, err := resolver.DetectParentRefs(p.Entity, r)
		if err != nil {
			o.recordFailure(ctx, batch, r, r, r, "parent_refs", []normalizer.ValidationFailure{
				{Field: "parent_refs", Message: err.Error()},
			})
			continue
		}
		withParentRefs = append(withParentRefs, withRefs)
	}

	// --- stage 7/9: DELTA ---
	slog.Info("[stage 7/9] delta", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	bkHashes := make([]string, 0, len(withParentRefs))
	for _, r := range withParentRefs {
		bkHashes = append(bkHashes, r.BusinessKeyHash())
	}
	stored, err := o.Sink.GetBatchByBKHashes(ctx, p.Entity.EntityName, bkHashes)
	if err != nil {
		return errkind.Newf(errkind.Delta, "get stored state: %v", err)
	}
	allowDelete := p.SyncType == model.SyncFull
	buckets, deltaMetrics, warnings := delta.Classify(p.DeltaStrategy, withParentRefs, stored, allowDelete)
	for _, w := range warnings {
		slog.Warn("delta anomaly", "entity", p.Entity.EntityName, "batch_uid", batch.UID, "warning", w)
	}
	_ = deltaMetrics

	// --- stage 8/9: RESOLVE ---
	slog.Info("[stage 8/9] resolve", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	readyInsert, readyUpdate := o.resolveParents(ctx, p, batch, buckets)

	// --- stage 9/9: INGEST ---
	slog.Info("[stage 9/9] ingest", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	o.ingest(ctx, p, batch, readyInsert, readyUpdate, buckets.Delete)

	// --- stage 10/9 (named TRACK in spec.md, numbered past the logged 9): persist metrics/cursor ---
	slog.Info("track", "entity", p.Entity.EntityName, "batch_uid", batch.UID)
	return o.track(ctx, p, batch, stamped)
}

func (o *Orchestrator) fetch(ctx context.Context, p RunParams) ([]model.Record, error) {
	var rowVersionGT any
	if p.SyncType == model.SyncIncremental {
		state, err := o.Store.GetSyncState(ctx, p.Entity.EntityName, p.SourceSystem)
		if err == nil && state != nil && state.LastSyncRowVersion != nil {
			rowVersionGT = *state.LastSyncRowVersion
		}
	}

	var all []model.Record
	page := p.StartPage
	if page == 0 {
		page = 1
	}
	startPage := page
	for {
		if p.MaxPages > 0 && page > startPage+p.MaxPages-1 {
			break
		}
		result, err := o.Source.FetchPage(ctx, sourceclient.FetchParams{
			EntitySlug:   p.Entity.SourceAPISlug,
			Page:         page,
			PageSize:     p.PageSize,
			RowVersionGT: rowVersionGT,
		})
		if err != nil {
			return all, err
		}
		all = append(all, result.Records...)
		if !result.HasMore {
			break
		}
		page++
	}
	return all, nil
}

func (o *Orchestrator) resolveParents(ctx context.Context, p RunParams, batch *model.SyncBatch, buckets delta.Buckets) (insert, update []model.DeltaRecord) {
	resolve := func(drs []model.DeltaRecord) []model.DeltaRecord {
		var ready []model.DeltaRecord
		for _, dr := range drs {
			outcome, err := resolver.Resolve(ctx, p.Entity, o.Sink, dr.Record)
			if err != nil {
				o.recordFailure(ctx, batch, dr.Record, dr.Record, dr.Record, "resolve", []normalizer.ValidationFailure{
					{Field: "parent_refs", Message: err.Error()},
				})
				continue
			}
			if outcome.Ready {
				ready = append(ready, dr)
				continue
			}
			pc := resolver.NewPendingChild(batch.UID, p.Entity.EntityName, outcome)
			id, err := uuid.NewV7()
			if err != nil {
				slog.Error("generate pending-child uid", "err", err)
				continue
			}
			pc.UID = id.String()
			pc.CreatedAt = time.Now().UTC()
			if err := o.Store.SavePendingChild(ctx, pc); err != nil {
				slog.Error("save pending child failed", "entity", p.Entity.EntityName, "err", err)
			}
		}
		return ready
	}
	return resolve(buckets.Insert), resolve(buckets.Update)
}

func (o *Orchestrator) ingest(ctx context.Context, p RunParams, batch *model.SyncBatch, inserts, updates []model.DeltaRecord, deletes []model.DeltaRecord) {
	if len(inserts) > 0 {
		records := make([]model.Record, len(inserts))
		for i, dr := range inserts {
			records[i] = dr.Record
		}
		results := o.Sink.BatchInsert(ctx, p.Entity.EntityName, records)
		for i, res := range results {
			if res.Error != nil {
				o.recordFailure(ctx, batch, inserts[i].Record, inserts[i].Record, inserts[i].Record, "ingest", []normalizer.ValidationFailure{
					{Field: "sink_insert", Message: res.Error.Error()},
				})
				continue
			}
			batch.Metrics.RowsInserted++
		}
	}

	if len(updates) > 0 {
		uids := make([]string, len(updates))
		records := make([]model.Record, len(updates))
		for i, dr := range updates {
			uids[i] = dr.SinkUID
			records[i] = dr.Record
		}
		results := o.Sink.BatchUpdate(ctx, p.Entity.EntityName, uids, records)
		for i, res := range results {
			if res.Error != nil {
				o.recordFailure(ctx, batch, updates[i].Record, updates[i].Record, updates[i].Record, "ingest", []normalizer.ValidationFailure{
					{Field: "sink_update", Message: res.Error.Error()},
				})
				continue
			}
			batch.Metrics.RowsUpdated++
		}
	}

	if len(deletes) > 0 {
		uids := make([]string, len(deletes))
		for i, dr := range deletes {
			uids[i] = dr.SinkUID
		}
		results := o.Sink.BatchDelete(ctx, p.Entity.EntityName, uids)
		for i, res := range results {
			if res.Error != nil {
				o.recordFailure(ctx, batch, model.Record{model.FieldKeyHash: deletes[i].BKHash}, model.Record{}, model.Record{}, "ingest", []normalizer.ValidationFailure{
					{Field: "sink_delete", Message: res.Error.Error()},
				})
				continue
			}
			batch.Metrics.RowsDeleted++
		}
	}
}

func (o *Orchestrator) track(ctx context.Context, p RunParams, batch *model.SyncBatch, stamped []model.Record) error {
	var maxRowVersion any
	for _, r := range stamped {
		rv := r.RowVersion()
		if rv == nil {
			continue
		}
		if maxRowVersion == nil {
			maxRowVersion = rv
			continue
		}
		if cmp, ok := identity.CompareRowVersions(rv, maxRowVersion); ok && cmp > 0 {
			maxRowVersion = rv
		}
	}

	state := model.SyncState{
		EntityName:   p.Entity.EntityName,
		SourceSystem: p.SourceSystem,
		LastBatchUID: &batch.UID,
	}
	if maxRowVersion != nil {
		s := identity.RowVersionToString(maxRowVersion)
		state.LastSyncRowVersion = &s
	}
	now := time.Now().UTC()
	state.LastSyncTimestamp = &now
	return o.Store.UpsertSyncState(ctx, state)
}

func (o *Orchestrator) recordFailure(ctx context.Context, batch *model.SyncBatch, raw, normalized, mapped model.Record, stage string, failures []normalizer.ValidationFailure) {
	batch.Metrics.RowsFailed++
	msg := "validation failed"
	if len(failures) > 0 {
		msg = failures[0].Message
	}
	id, err := uuid.NewV7()
	if err != nil {
		slog.Error("generate failed-record uid", "err", err)
		return
	}
	fr := model.FailedRecord{
		UID:            id.String(),
		BatchUID:       batch.UID,
		EntityName:     batch.EntityName,
		RawData:        raw,
		NormalizedData: normalized,
		MappedData:     mapped,
		StageFailed:    stage,
		ErrorType:      stage,
		ErrorMessage:   msg,
		MaxRetries:     model.DefaultFailedRecordMaxRetries,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.Store.SaveFailedRecord(ctx, fr); err != nil {
		slog.Error("save failed record", "batch_uid", batch.UID, "stage", stage, "err", err)
	}
}
