package orchestrator

import (
	"context"
	"testing"

	"github.com/syncforge/erpsync/internal/delta"
	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/normalizer"
	"github.com/syncforge/erpsync/internal/resolver"
	"github.com/syncforge/erpsync/internal/sinkclient"
	"github.com/syncforge/erpsync/internal/sourceclient"
)

// fakeSource serves a fixed set of pages, mirroring the harness-over-fakes
// approach used for the sync engine's own integration tests.
type fakeSource struct {
	pages []sourceclient.Page
}

func (f *fakeSource) FetchPage(_ context.Context, p sourceclient.FetchParams) (*sourceclient.Page, error) {
	idx := p.Page - 1
	if idx < 0 || idx >= len(f.pages) {
		return &sourceclient.Page{}, nil
	}
	page := f.pages[idx]
	return &page, nil
}

// fakeSink is an in-memory sink keyed by business-key hash.
type fakeSink struct {
	stored map[string]model.StoredRecordState
}

func newFakeSink() *fakeSink {
	return &fakeSink{stored: make(map[string]model.StoredRecordState)}
}

func (f *fakeSink) GetByBKHash(_ context.Context, _ string, bkHash string) (*model.StoredRecordState, error) {
	if s, ok := f.stored[bkHash]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeSink) GetBatchByBKHashes(_ context.Context, _ string, bkHashes []string) (map[string]model.StoredRecordState, error) {
	out := make(map[string]model.StoredRecordState, len(bkHashes))
	for _, bk := range bkHashes {
		if s, ok := f.stored[bk]; ok {
			out[bk] = s
		}
	}
	return out, nil
}

func (f *fakeSink) Insert(_ context.Context, _ string, r model.Record) (string, error) {
	uid := "uid-" + r.BusinessKeyHash()
	f.stored[r.BusinessKeyHash()] = model.StoredRecordState{
		UID: uid, KeyHash: r.BusinessKeyHash(), DataHash: r.DataHash(), RowVersion: r.RowVersion(),
	}
	return uid, nil
}

func (f *fakeSink) Update(_ context.Context, _ string, uid string, r model.Record) error {
	f.stored[r.BusinessKeyHash()] = model.StoredRecordState{
		UID: uid, KeyHash: r.BusinessKeyHash(), DataHash: r.DataHash(), RowVersion: r.RowVersion(),
	}
	return nil
}

func (f *fakeSink) BatchInsert(_ context.Context, _ string, records []model.Record) []sinkclient.BatchResult {
	results := make([]sinkclient.BatchResult, len(records))
	for i, r := range records {
		uid := "uid-" + r.BusinessKeyHash()
		f.stored[r.BusinessKeyHash()] = model.StoredRecordState{
			UID: uid, KeyHash: r.BusinessKeyHash(), DataHash: r.DataHash(), RowVersion: r.RowVersion(),
		}
		results[i] = sinkclient.BatchResult{UID: uid}
	}
	return results
}

func (f *fakeSink) BatchUpdate(_ context.Context, _ string, uids []string, records []model.Record) []sinkclient.BatchResult {
	results := make([]sinkclient.BatchResult, len(records))
	for i, r := range records {
		f.stored[r.BusinessKeyHash()] = model.StoredRecordState{
			UID: uids[i], KeyHash: r.BusinessKeyHash(), DataHash: r.DataHash(), RowVersion: r.RowVersion(),
		}
		results[i] = sinkclient.BatchResult{UID: uids[i]}
	}
	return results
}

func (f *fakeSink) BatchDelete(_ context.Context, _ string, uids []string) []sinkclient.BatchResult {
	results := make([]sinkclient.BatchResult, len(uids))
	for i, uid := range uids {
		for bk, s := range f.stored {
			if s.UID == uid {
				delete(f.stored, bk)
			}
		}
		results[i] = sinkclient.BatchResult{UID: uid}
	}
	return results
}

func (f *fakeSink) ParentsExist(_ context.Context, _ string, bkHashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(bkHashes))
	for _, bk := range bkHashes {
		_, out[bk] = f.stored[bk]
	}
	return out, nil
}

// fakeStore is an in-memory StateStore.
type fakeStore struct {
	states         map[string]model.SyncState
	batches        map[string]*model.SyncBatch
	failedRecords  []model.FailedRecord
	pendingChildren []model.PendingChild
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:  make(map[string]model.SyncState),
		batches: make(map[string]*model.SyncBatch),
	}
}

func (f *fakeStore) key(entity, source string) string { return entity + "|" + source }

func (f *fakeStore) GetSyncState(_ context.Context, entityName, sourceSystem string) (*model.SyncState, error) {
	s, ok := f.states[f.key(entityName, sourceSystem)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) UpsertSyncState(_ context.Context, state model.SyncState) error {
	f.states[f.key(state.EntityName, state.SourceSystem)] = state
	return nil
}

func (f *fakeStore) CreateBatch(_ context.Context, batch *model.SyncBatch) error {
	f.batches[batch.UID] = batch
	return nil
}

func (f *fakeStore) UpdateBatch(_ context.Context, batch *model.SyncBatch) error {
	f.batches[batch.UID] = batch
	return nil
}

func (f *fakeStore) SaveFailedRecord(_ context.Context, fr model.FailedRecord) error {
	f.failedRecords = append(f.failedRecords, fr)
	return nil
}

func (f *fakeStore) SavePendingChild(_ context.Context, pc model.PendingChild) error {
	f.pendingChildren = append(f.pendingChildren, pc)
	return nil
}

func inventoryEntity() model.EntityConfig {
	return model.EntityConfig{
		EntityName:        "inventory_items",
		SourceAPISlug:     "inventory-items",
		BusinessKeyFields: []string{"item_id"},
	}
}

func TestRunSyncNewRecordInsert(t *testing.T) {
	source := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A", "qty": int64(1)}}, HasMore: false},
	}}
	sink := newFakeSink()
	store := newFakeStore()
	o := New(source, sink, store)

	batch, err := o.RunSync(context.Background(), RunParams{
		Entity:        inventoryEntity(),
		SyncType:      model.SyncFull,
		PageSize:      100,
		DeltaStrategy: delta.StrategyHash,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Status != model.BatchCompleted {
		t.Fatalf("expected completed batch, got %s (%v)", batch.Status, batch.ErrorMessage)
	}
	if batch.Metrics.RowsInserted != 1 {
		t.Fatalf("expected 1 insert, got %+v", batch.Metrics)
	}
	if len(sink.stored) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(sink.stored))
	}
}

func TestRunSyncUnchangedSkip(t *testing.T) {
	source := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A", "qty": int64(1)}}, HasMore: false},
	}}
	sink := newFakeSink()
	store := newFakeStore()
	o := New(source, sink, store)
	params := RunParams{Entity: inventoryEntity(), SyncType: model.SyncFull, PageSize: 100, DeltaStrategy: delta.StrategyHash}

	if _, err := o.RunSync(context.Background(), params); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	batch, err := o.RunSync(context.Background(), params)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if batch.Metrics.RowsInserted != 0 || batch.Metrics.RowsUpdated != 0 {
		t.Fatalf("expected second sync to skip unchanged record, got %+v", batch.Metrics)
	}
}

func TestRunSyncUpdateOnHashChange(t *testing.T) {
	source1 := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A", "qty": int64(1)}}, HasMore: false},
	}}
	sink := newFakeSink()
	store := newFakeStore()
	params := RunParams{Entity: inventoryEntity(), SyncType: model.SyncFull, PageSize: 100, DeltaStrategy: delta.StrategyHash}

	o1 := New(source1, sink, store)
	if _, err := o1.RunSync(context.Background(), params); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	source2 := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A", "qty": int64(2)}}, HasMore: false},
	}}
	o2 := New(source2, sink, store)
	batch, err := o2.RunSync(context.Background(), params)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if batch.Metrics.RowsUpdated != 1 {
		t.Fatalf("expected 1 update, got %+v", batch.Metrics)
	}
}

func TestRunSyncDeletionOnFullSync(t *testing.T) {
	sink := newFakeSink()
	store := newFakeStore()
	params := RunParams{Entity: inventoryEntity(), SyncType: model.SyncFull, PageSize: 100, DeltaStrategy: delta.StrategyHash}

	firstSource := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A"}, {"item_id": "B"}, {"item_id": "C"}}, HasMore: false},
	}}
	New(firstSource, sink, store).RunSync(context.Background(), params)

	secondSource := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A"}, {"item_id": "B"}}, HasMore: false},
	}}
	batch, err := New(secondSource, sink, store).RunSync(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Metrics.RowsDeleted != 1 {
		t.Fatalf("expected 1 delete for dropped record C, got %+v", batch.Metrics)
	}
}

func TestRunSyncIncrementalNeverDeletes(t *testing.T) {
	sink := newFakeSink()
	store := newFakeStore()

	firstSource := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A"}, {"item_id": "B"}}, HasMore: false},
	}}
	New(firstSource, sink, store).RunSync(context.Background(), RunParams{
		Entity: inventoryEntity(), SyncType: model.SyncFull, PageSize: 100, DeltaStrategy: delta.StrategyHash,
	})

	secondSource := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"item_id": "A"}}, HasMore: false},
	}}
	batch, err := New(secondSource, sink, store).RunSync(context.Background(), RunParams{
		Entity: inventoryEntity(), SyncType: model.SyncIncremental, PageSize: 100, DeltaStrategy: delta.StrategyHash,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Metrics.RowsDeleted != 0 {
		t.Fatal("incremental sync must never delete despite B being absent from this page")
	}
}

func TestRunSyncMissingParentQueuesPendingChild(t *testing.T) {
	entity := model.EntityConfig{
		EntityName:        "orders",
		SourceAPISlug:     "orders",
		BusinessKeyFields: []string{"order_id"},
		ParentRefsConfig: map[string]model.ParentRefConfig{
			"site": {ParentEntity: "sites", ParentField: "site_id", ChildField: "site_id"},
		},
	}
	source := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"order_id": "X", "site_id": "S1"}}, HasMore: false},
	}}
	sink := newFakeSink()
	store := newFakeStore()

	batch, err := New(source, sink, store).RunSync(context.Background(), RunParams{
		Entity: entity, SyncType: model.SyncFull, PageSize: 100, DeltaStrategy: delta.StrategyHash,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Status == model.BatchFailed {
		t.Fatal("missing-parent children must not fail the batch")
	}
	if len(store.pendingChildren) != 1 {
		t.Fatalf("expected 1 pending child, got %d", len(store.pendingChildren))
	}
	if len(sink.stored) != 0 {
		t.Fatal("expected zero sink writes for the queued child")
	}
}

func TestRunSyncValidationFailureGoesToFailedRecord(t *testing.T) {
	cfg := normalizer.Config{
		FieldRules: []normalizer.FieldRule{{SourceField: "item_id", Required: true}},
	}
	source := &fakeSource{pages: []sourceclient.Page{
		{Records: []model.Record{{"qty": int64(1)}}, HasMore: false}, // missing item_id
	}}
	sink := newFakeSink()
	store := newFakeStore()

	batch, err := New(source, sink, store).RunSync(context.Background(), RunParams{
		Entity: inventoryEntity(), NormalizerCfg: cfg, SyncType: model.SyncFull, PageSize: 100, DeltaStrategy: delta.StrategyHash,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Metrics.RowsFailed != 1 {
		t.Fatalf("expected 1 failed row, got %+v", batch.Metrics)
	}
	if len(store.failedRecords) != 1 || store.failedRecords[0].StageFailed != "validate" {
		t.Fatalf("expected 1 failed record at stage validate, got %+v", store.failedRecords)
	}
}

func TestRetryFailedRecordInsertsOnSuccess(t *testing.T) {
	sink := newFakeSink()
	store := newFakeStore()
	o := New(&fakeSource{}, sink, store)

	fr := model.FailedRecord{
		EntityName:     "inventory_items",
		NormalizedData: model.Record{"item_id": "A", "qty": int64(1)},
		StageFailed:    "identity",
	}
	if err := o.RetryFailedRecord(context.Background(), RetryContext{Entity: inventoryEntity()}, fr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.stored) != 1 {
		t.Fatalf("expected the replayed record to be written, got %d stored", len(sink.stored))
	}
}

func TestRetryFailedRecordStillBlockedOnMissingParent(t *testing.T) {
	entity := model.EntityConfig{
		EntityName:        "orders",
		BusinessKeyFields: []string{"order_id"},
		ParentRefsConfig: map[string]model.ParentRefConfig{
			"site": {ParentEntity: "sites", ParentField: "site_id", ChildField: "site_id"},
		},
	}
	sink := newFakeSink()
	store := newFakeStore()
	o := New(&fakeSource{}, sink, store)

	fr := model.FailedRecord{
		EntityName:     "orders",
		NormalizedData: model.Record{"order_id": "X", "site_id": "S1"},
		StageFailed:    "resolve",
	}
	err := o.RetryFailedRecord(context.Background(), RetryContext{Entity: entity}, fr)
	if err == nil {
		t.Fatal("expected retry to still be blocked while the parent site is unresolved")
	}
	if len(sink.stored) != 0 {
		t.Fatal("expected no sink write while blocked on a missing parent")
	}
}

func TestRetryPendingChildResolvesOnceParentExists(t *testing.T) {
	entity := model.EntityConfig{
		EntityName:        "orders",
		BusinessKeyFields: []string{"order_id"},
		ParentRefsConfig: map[string]model.ParentRefConfig{
			"site": {ParentEntity: "sites", ParentField: "site_id", ChildField: "site_id"},
		},
	}
	sink := newFakeSink()
	sink.stored["bk-site"] = model.StoredRecordState{UID: "uid-site", KeyHash: "bk-site"}
	store := newFakeStore()
	o := New(&fakeSource{}, sink, store)

	child, err := resolver.DetectParentRefs(entity, model.Record{"order_id": "X", "site_id": "S1"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	// Force the parent bk hash to match the stored sentinel above.
	refs := child[model.FieldParentRefs].(map[string]*string)
	bk := "bk-site"
	refs["site"] = &bk

	pc := model.PendingChild{ChildEntity: "orders", ChildPayload: child, RetryCount: 0, MaxRetries: model.DefaultPendingChildMaxRetries}
	resolved, _, err := o.RetryPendingChild(context.Background(), RetryContext{Entity: entity}, pc, resolver.DefaultBackoffConfig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resolved {
		t.Fatal("expected the pending child to resolve once its parent is present")
	}
}

func TestRetryPendingChildAdvancesRetryCountWhenStillBlocked(t *testing.T) {
	entity := model.EntityConfig{
		EntityName:        "orders",
		BusinessKeyFields: []string{"order_id"},
		ParentRefsConfig: map[string]model.ParentRefConfig{
			"site": {ParentEntity: "sites", ParentField: "site_id", ChildField: "site_id"},
		},
	}
	sink := newFakeSink()
	store := newFakeStore()
	o := New(&fakeSource{}, sink, store)

	child, err := resolver.DetectParentRefs(entity, model.Record{"order_id": "X", "site_id": "S1"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	pc := model.PendingChild{ChildEntity: "orders", ChildPayload: child, RetryCount: 0, MaxRetries: model.DefaultPendingChildMaxRetries}

	resolved, updated, err := o.RetryPendingChild(context.Background(), RetryContext{Entity: entity}, pc, resolver.DefaultBackoffConfig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved {
		t.Fatal("expected the pending child to remain unresolved with no parent present")
	}
	if updated.RetryCount != 1 {
		t.Fatalf("expected retry_count to advance to 1, got %d", updated.RetryCount)
	}
	if updated.NextRetryAt == nil {
		t.Fatal("expected next_retry_at to be set")
	}
}
