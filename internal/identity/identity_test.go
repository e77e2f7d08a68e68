package identity

import (
	"testing"

	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/model"
)

func TestBusinessKeyHashDeterministic(t *testing.T) {
	r := model.Record{"item_id": "A", "qty": int64(1)}
	bk1, _, err := BusinessKeyHash("inventory_items", r, []string{"item_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bk2, _, err := BusinessKeyHash("inventory_items", r, []string{"item_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bk1 != bk2 {
		t.Fatalf("BK not deterministic: %s != %s", bk1, bk2)
	}
	if len(bk1) != 32 {
		t.Fatalf("expected 32 hex chars, got %d (%s)", len(bk1), bk1)
	}
}

func TestBusinessKeyHashFieldOrderIndependence(t *testing.T) {
	a := model.Record{"item_id": "A", "qty": int64(1), "color": "red"}
	b := model.Record{"color": "red", "qty": int64(1), "item_id": "A"}

	bkA, _, err := BusinessKeyHash("inventory_items", a, []string{"item_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bkB, _, err := BusinessKeyHash("inventory_items", b, []string{"item_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bkA != bkB {
		t.Fatalf("BK depends on unrelated field iteration order: %s != %s", bkA, bkB)
	}
}

func TestBusinessKeyHashMissingField(t *testing.T) {
	r := model.Record{"qty": int64(1)}
	_, _, err := BusinessKeyHash("inventory_items", r, []string{"item_id"})
	if err == nil {
		t.Fatal("expected an error for missing business-key field")
	}
	if !errkind.OfKind(err, errkind.Identity) {
		t.Fatalf("expected errkind.Identity, got %v", err)
	}
}

func TestBusinessKeyHashNullField(t *testing.T) {
	r := model.Record{"item_id": nil}
	_, _, err := BusinessKeyHash("inventory_items", r, []string{"item_id"})
	if err == nil {
		t.Fatal("expected an error for null business-key field")
	}
}

func TestDataHashSensitivity(t *testing.T) {
	a := model.Record{"item_id": "A", "qty": int64(1)}
	b := model.Record{"item_id": "A", "qty": int64(2)}
	if DataHash(a) == DataHash(b) {
		t.Fatal("DH should differ when a non-excluded field differs")
	}
}

func TestDataHashExcludesVolatileFields(t *testing.T) {
	a := model.Record{"item_id": "A", "created_at": "2026-01-01", "uid": "x"}
	b := model.Record{"item_id": "A", "created_at": "2026-06-01", "uid": "y"}
	if DataHash(a) != DataHash(b) {
		t.Fatal("DH should ignore created_at/uid")
	}
}

func TestDataHashNullsOmitted(t *testing.T) {
	a := model.Record{"item_id": "A", "note": nil}
	b := model.Record{"item_id": "A"}
	if DataHash(a) != DataHash(b) {
		t.Fatal("DH should treat a null field the same as an absent one")
	}
}

func TestStampProducesValidIdentity(t *testing.T) {
	r := model.Record{"item_id": "A", "qty": int64(1), "rv": int64(42)}
	stamped, err := Stamp("inventory_items", r, []string{"item_id"}, "rv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(stamped); err != nil {
		t.Fatalf("stamped record failed validation: %v", err)
	}
	if stamped.RowVersion() != int64(42) {
		t.Fatalf("expected row version 42, got %v", stamped.RowVersion())
	}
	if stamped[model.FieldRefStr] != "item_id=A" {
		t.Fatalf("unexpected ref string: %v", stamped[model.FieldRefStr])
	}
}

func TestCompareRowVersionsNumeric(t *testing.T) {
	cmp, ok := CompareRowVersions(int64(5), int64(10))
	if !ok || cmp >= 0 {
		t.Fatalf("expected 5 < 10, got cmp=%d ok=%v", cmp, ok)
	}
}

func TestCompareRowVersionsTimestamp(t *testing.T) {
	cmp, ok := CompareRowVersions("2026-01-01T00:00:00Z", "2026-02-01T00:00:00Z")
	if !ok || cmp >= 0 {
		t.Fatalf("expected earlier < later, got cmp=%d ok=%v", cmp, ok)
	}
}

func TestCompareRowVersionsNilNotComparable(t *testing.T) {
	if _, ok := CompareRowVersions(nil, int64(1)); ok {
		t.Fatal("expected ok=false when one side is nil")
	}
}
