package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/orchestrator"
	"github.com/syncforge/erpsync/internal/sinkclient"
	"github.com/syncforge/erpsync/internal/sourceclient"
)

// fakeSource serves a fixed number of single-record pages, enough to
// exercise the slice driver's page-windowing without a real backend.
type fakeSource struct {
	totalPages int
	seenPages  []int
}

func (f *fakeSource) FetchPage(ctx context.Context, p sourceclient.FetchParams) (*sourceclient.Page, error) {
	f.seenPages = append(f.seenPages, p.Page)
	if p.Page > f.totalPages {
		return &sourceclient.Page{}, nil
	}
	return &sourceclient.Page{
		Records: []model.Record{{"id": p.Page, "name": "row"}},
		HasMore: p.Page < f.totalPages,
	}, nil
}

// failingSource always errors, forcing RunSync's FETCH stage to fail
// and the batch to land in BatchFailed.
type failingSource struct{}

func (f *failingSource) FetchPage(ctx context.Context, p sourceclient.FetchParams) (*sourceclient.Page, error) {
	return nil, errTestFetch
}

var errTestFetch = errors.New("source unavailable")

type fakeSink struct{}

func (f *fakeSink) GetByBKHash(ctx context.Context, entity, bkHash string) (*model.StoredRecordState, error) {
	return nil, nil
}
func (f *fakeSink) Insert(ctx context.Context, entity string, record model.Record) (string, error) {
	return "uid-new", nil
}
func (f *fakeSink) Update(ctx context.Context, entity, uid string, record model.Record) error {
	return nil
}
func (f *fakeSink) GetBatchByBKHashes(ctx context.Context, entity string, bkHashes []string) (map[string]model.StoredRecordState, error) {
	return map[string]model.StoredRecordState{}, nil
}
func (f *fakeSink) BatchInsert(ctx context.Context, entity string, records []model.Record) []sinkclient.BatchResult {
	out := make([]sinkclient.BatchResult, len(records))
	return out
}
func (f *fakeSink) BatchUpdate(ctx context.Context, entity string, uids []string, records []model.Record) []sinkclient.BatchResult {
	return make([]sinkclient.BatchResult, len(records))
}
func (f *fakeSink) BatchDelete(ctx context.Context, entity string, uids []string) []sinkclient.BatchResult {
	return make([]sinkclient.BatchResult, len(uids))
}
func (f *fakeSink) ParentsExist(ctx context.Context, parentEntity string, bkHashes []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

type fakeStore struct {
	schedule *model.BackgroundSchedule
	updated  model.BackgroundSchedule
}

func (f *fakeStore) GetSyncState(ctx context.Context, entityName, sourceSystem string) (*model.SyncState, error) {
	return nil, nil
}
func (f *fakeStore) UpsertSyncState(ctx context.Context, state model.SyncState) error { return nil }
func (f *fakeStore) CreateBatch(ctx context.Context, batch *model.SyncBatch) error    { return nil }
func (f *fakeStore) UpdateBatch(ctx context.Context, batch *model.SyncBatch) error    { return nil }
func (f *fakeStore) SaveFailedRecord(ctx context.Context, fr model.FailedRecord) error { return nil }
func (f *fakeStore) SavePendingChild(ctx context.Context, pc model.PendingChild) error { return nil }

func (f *fakeStore) GetBackgroundSchedule(ctx context.Context, uid string) (*model.BackgroundSchedule, error) {
	return f.schedule, nil
}
func (f *fakeStore) UpdateBackgroundSchedule(ctx context.Context, sched model.BackgroundSchedule) error {
	f.updated = sched
	return nil
}

func entityConfig() model.EntityConfig {
	return model.EntityConfig{
		EntityName:        "invoices",
		SourceAPISlug:     "invoices",
		BusinessKeyFields: []string{"id"},
	}
}

func TestBackgroundSliceDriverAdvancesOffset(t *testing.T) {
	src := &fakeSource{totalPages: 10}
	store := &fakeStore{
		schedule: &model.BackgroundSchedule{
			UID:               "sched-1",
			EntityName:        "invoices",
			SyncWindowStart:   "02:00:00",
			SyncWindowEnd:     "04:00:00",
			DaysToComplete:    5,
			TotalRowsEstimate: intPtr(500),
			CurrentOffset:     0,
		},
	}

	driver := &BackgroundSliceDriver{
		Orchestrator: orchestrator.New(src, &fakeSink{}, store),
		Store:        store,
		Entity:       entityConfig(),
		SourceSystem: "legacy-erp",
		PageSize:     1,
	}

	if err := driver.Run(context.Background(), "sched-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 500/5 = 100 rows/day quota at page size 1 => at most pages 1..100;
	// the fake source runs out after page 10, and the offset still
	// advances by the full quota.
	if store.updated.CurrentOffset != 100 {
		t.Fatalf("expected offset to advance by 100, got %d", store.updated.CurrentOffset)
	}
	if store.updated.LastRunAt == nil {
		t.Fatal("expected last_run_at to be set")
	}
	if len(src.seenPages) == 0 || src.seenPages[0] != 1 {
		t.Fatalf("expected first slice to start at page 1, got %v", src.seenPages)
	}
}

func TestBackgroundSliceDriverResumesFromOffset(t *testing.T) {
	src := &fakeSource{totalPages: 10}
	store := &fakeStore{
		schedule: &model.BackgroundSchedule{
			UID:               "sched-1",
			EntityName:        "invoices",
			SyncWindowStart:   "02:00:00",
			SyncWindowEnd:     "04:00:00",
			DaysToComplete:    5,
			TotalRowsEstimate: intPtr(500),
			CurrentOffset:     300,
		},
	}

	driver := &BackgroundSliceDriver{
		Orchestrator: orchestrator.New(src, &fakeSink{}, store),
		Store:        store,
		Entity:       entityConfig(),
		SourceSystem: "legacy-erp",
		PageSize:     1,
	}

	if err := driver.Run(context.Background(), "sched-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.seenPages[0] != 301 {
		t.Fatalf("expected to resume at page 301, got %d", src.seenPages[0])
	}
}

func TestBackgroundSliceDriverSkipsWhenCompleteAndNotForced(t *testing.T) {
	src := &fakeSource{totalPages: 10}
	store := &fakeStore{
		schedule: &model.BackgroundSchedule{
			UID:               "sched-1",
			TotalRowsEstimate: intPtr(100),
			CurrentOffset:     100,
		},
	}

	driver := &BackgroundSliceDriver{
		Orchestrator: orchestrator.New(src, &fakeSink{}, store),
		Store:        store,
		Entity:       entityConfig(),
		PageSize:     1,
	}

	if err := driver.Run(context.Background(), "sched-1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.seenPages) != 0 {
		t.Fatal("expected no fetch once the backfill is complete")
	}
}

func TestBackgroundSliceDriverUnknownScheduleErrors(t *testing.T) {
	store := &fakeStore{schedule: nil}
	driver := &BackgroundSliceDriver{
		Orchestrator: orchestrator.New(&fakeSource{}, &fakeSink{}, store),
		Store:        store,
		Entity:       entityConfig(),
		PageSize:     1,
	}
	if err := driver.Run(context.Background(), "missing", false); err == nil {
		t.Fatal("expected an error for an unregistered schedule")
	}
}

func TestBackgroundSliceDriverDoesNotAdvanceOffsetOnFailedBatch(t *testing.T) {
	store := &fakeStore{
		schedule: &model.BackgroundSchedule{
			UID:               "sched-1",
			EntityName:        "invoices",
			SyncWindowStart:   "02:00:00",
			SyncWindowEnd:     "04:00:00",
			DaysToComplete:    5,
			TotalRowsEstimate: intPtr(500),
			CurrentOffset:     0,
		},
	}

	driver := &BackgroundSliceDriver{
		Orchestrator: orchestrator.New(&failingSource{}, &fakeSink{}, store),
		Store:        store,
		Entity:       entityConfig(),
		SourceSystem: "legacy-erp",
		PageSize:     1,
	}

	if err := driver.Run(context.Background(), "sched-1", false); err == nil {
		t.Fatal("expected an error when the slice's batch fails")
	}
	if store.updated.CurrentOffset != 0 {
		t.Fatalf("expected current_offset untouched after a failed batch, got %d", store.updated.CurrentOffset)
	}
	if store.updated.LastRunAt != nil {
		t.Fatal("expected last_run_at untouched after a failed batch")
	}
}

func intPtr(n int) *int { return &n }
