package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/syncforge/erpsync/internal/model"
)

func siteOrderConfig() model.EntityConfig {
	return model.EntityConfig{
		EntityName:        "orders",
		BusinessKeyFields: []string{"order_id"},
		ParentRefsConfig: map[string]model.ParentRefConfig{
			"site": {ParentEntity: "sites", ParentField: "site_id", ChildField: "site_id"},
		},
	}
}

func TestDetectParentRefsComputesParentBK(t *testing.T) {
	cfg := siteOrderConfig()
	child := model.Record{"order_id": "X", "site_id": "S1"}

	out, err := DetectParentRefs(cfg, child)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refs, ok := out[model.FieldParentRefs].(map[string]*string)
	if !ok {
		t.Fatal("expected parent_refs map")
	}
	bk := refs["site"]
	if bk == nil || len(*bk) != 32 {
		t.Fatalf("expected a 32-hex parent BK, got %v", bk)
	}
}

func TestDetectParentRefsNilWhenChildFieldAbsent(t *testing.T) {
	cfg := siteOrderConfig()
	child := model.Record{"order_id": "X"}

	out, err := DetectParentRefs(cfg, child)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refs := out[model.FieldParentRefs].(map[string]*string)
	if refs["site"] != nil {
		t.Fatal("expected nil parent ref when child field is absent")
	}
}

type fakeChecker struct {
	existing map[string]bool
}

func (f fakeChecker) ParentsExist(_ context.Context, _ string, bkHashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(bkHashes))
	for _, bk := range bkHashes {
		out[bk] = f.existing[bk]
	}
	return out, nil
}

func TestResolveReadyWhenParentExists(t *testing.T) {
	cfg := siteOrderConfig()
	child := model.Record{"order_id": "X", "site_id": "S1"}
	stamped, _ := DetectParentRefs(cfg, child)
	refs := stamped[model.FieldParentRefs].(map[string]*string)
	bk := *refs["site"]

	outcome, err := Resolve(context.Background(), cfg, fakeChecker{existing: map[string]bool{bk: true}}, stamped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Ready {
		t.Fatalf("expected ready, got missing=%v", outcome.MissingParents)
	}
}

func TestResolveNotReadyWhenParentMissing(t *testing.T) {
	cfg := siteOrderConfig()
	child := model.Record{"order_id": "X", "site_id": "S1"}
	stamped, _ := DetectParentRefs(cfg, child)

	outcome, err := Resolve(context.Background(), cfg, fakeChecker{existing: map[string]bool{}}, stamped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Ready {
		t.Fatal("expected not ready when parent BK absent from sink")
	}
	if len(outcome.MissingParents) != 1 {
		t.Fatalf("expected 1 missing parent, got %v", outcome.MissingParents)
	}
}

func TestNewPendingChildCarriesFullPayload(t *testing.T) {
	cfg := siteOrderConfig()
	child := model.Record{"order_id": "X", "site_id": "S1"}
	stamped, _ := DetectParentRefs(cfg, child)
	outcome, _ := Resolve(context.Background(), cfg, fakeChecker{}, stamped)

	pc := NewPendingChild("batch-1", "orders", outcome)
	if pc.MaxRetries != model.DefaultPendingChildMaxRetries {
		t.Fatalf("expected default max retries 5, got %d", pc.MaxRetries)
	}
	if pc.ParentEntity != "sites" {
		t.Fatalf("expected blocking parent entity 'sites', got %q", pc.ParentEntity)
	}
	if pc.ChildPayload["order_id"] != "X" {
		t.Fatal("expected full child payload retained")
	}
}

func TestAdvanceRetryIncrementsAndSchedules(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc := model.PendingChild{RetryCount: 0, MaxRetries: 5}

	pc = AdvanceRetry(now, DefaultBackoffConfig, pc)
	if pc.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", pc.RetryCount)
	}
	if pc.NextRetryAt == nil || !pc.NextRetryAt.After(now) {
		t.Fatal("expected next_retry_at scheduled in the future")
	}
}

func TestAdvanceRetryExhaustsAtMaxRetries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc := model.PendingChild{RetryCount: 4, MaxRetries: 5}

	pc = AdvanceRetry(now, DefaultBackoffConfig, pc)
	if !Exhausted(pc) {
		t.Fatalf("expected exhausted after reaching max_retries, got retry_count=%d", pc.RetryCount)
	}
}

func TestNextRetryAtClampsToMax(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := BackoffConfig{Base: time.Second, Max: 10 * time.Second}

	next := NextRetryAt(now, cfg, 20) // far beyond what base*2^n would need to hit the clamp
	if d := next.Sub(now); d > cfg.Max {
		t.Fatalf("expected backoff clamped to %v, got %v", cfg.Max, d)
	}
}
