// Package delta classifies incoming records against sink state and
// produces the insert/update/skip/delete buckets the orchestrator
// sends downstream.
package delta

import (
	"sort"

	"github.com/syncforge/erpsync/internal/identity"
	"github.com/syncforge/erpsync/internal/model"
)

// Strategy names the classification strategy spec.md §4.3 describes.
type Strategy string

const (
	StrategyRowVersion Strategy = "row_version"
	StrategyHash       Strategy = "hash"
	StrategyAuto       Strategy = "auto"
)

// Classifier is the capability DESIGN NOTES prescribes: decide the op
// for one incoming record given its stored counterpart (nil when the
// BK is new). Implementations never mutate incoming or stored.
type Classifier interface {
	Classify(incoming model.Record, stored *model.StoredRecordState) model.DeltaOp
}

// RowVersionClassifier compares row-versions: incoming > stored means
// UPDATE, equal means SKIP, no stored record means INSERT.
type RowVersionClassifier struct{}

func (RowVersionClassifier) Classify(incoming model.Record, stored *model.StoredRecordState) model.DeltaOp {
	if stored == nil {
		return model.OpInsert
	}
	cmp, ok := identity.CompareRowVersions(incoming.RowVersion(), stored.RowVersion)
	if !ok {
		return HashClassifier{}.Classify(incoming, stored)
	}
	if cmp > 0 {
		return model.OpUpdate
	}
	return model.OpSkip
}

// HashClassifier compares data hashes: differing means UPDATE, equal
// means SKIP, no stored record means INSERT.
type HashClassifier struct{}

func (HashClassifier) Classify(incoming model.Record, stored *model.StoredRecordState) model.DeltaOp {
	if stored == nil {
		return model.OpInsert
	}
	if incoming.DataHash() != stored.DataHash {
		return model.OpUpdate
	}
	return model.OpSkip
}

// SelectStrategy implements spec.md §4.3's `auto` rule: row_version
// when every incoming record carries a non-null row-version, hash
// otherwise.
func SelectStrategy(requested Strategy, incoming []model.Record) Strategy {
	if requested != StrategyAuto {
		return requested
	}
	for _, r := range incoming {
		if r.RowVersion() == nil {
			return StrategyHash
		}
	}
	if len(incoming) == 0 {
		return StrategyHash
	}
	return StrategyRowVersion
}

func classifierFor(s Strategy) Classifier {
	if s == StrategyRowVersion {
		return RowVersionClassifier{}
	}
	return HashClassifier{}
}

// Metrics reports the outcome of a Classify run.
type Metrics struct {
	Total            int
	Inserted         int
	Updated          int
	Skipped          int
	Deleted          int
	Dropped          int // incoming records dropped for missing BK
	StrategyUsed     Strategy
}

func (m Metrics) EfficiencyPercent() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Inserted+m.Updated+m.Deleted) / float64(m.Total) * 100
}

// Buckets holds the categorized output of Classify.
type Buckets struct {
	Insert []model.DeltaRecord
	Update []model.DeltaRecord
	Skip   []model.DeltaRecord
	Delete []model.DeltaRecord
}

// Classify implements spec.md §4.3 end to end: strategy selection,
// per-record classification, last-wins on duplicate BKs, and DELETE
// detection via the stored\incoming set difference. allowDelete must
// be false for incremental syncs — a partial fetch can never be
// trusted to enumerate the full stored set.
func Classify(requested Strategy, incoming []model.Record, stored map[string]model.StoredRecordState, allowDelete bool) (Buckets, Metrics, []string) {
	strategy := SelectStrategy(requested, incoming)
	classifier := classifierFor(strategy)

	var buckets Buckets
	var warnings []string
	metrics := Metrics{StrategyUsed: strategy}

	seen := make(map[string]model.Record, len(incoming))
	order := make([]string, 0, len(incoming))
	for _, r := range incoming {
		bk := r.BusinessKeyHash()
		if bk == "" {
			metrics.Dropped++
			warnings = append(warnings, "incoming record missing business key hash, dropped")
			continue
		}
		if _, dup := seen[bk]; !dup {
			order = append(order, bk)
		} else {
			warnings = append(warnings, "duplicate business key hash "+bk+", last-wins")
		}
		seen[bk] = r
	}

	for _, bk := range order {
		incomingRecord := seen[bk]
		metrics.Total++
		var storedPtr *model.StoredRecordState
		if s, ok := stored[bk]; ok {
			storedPtr = &s
		}

		op := classifier.Classify(incomingRecord, storedPtr)
		dr := model.DeltaRecord{Op: op, Record: incomingRecord, BKHash: bk}
		if storedPtr != nil {
			dr.SinkUID = storedPtr.UID
		}

		switch op {
		case model.OpInsert:
			metrics.Inserted++
			buckets.Insert = append(buckets.Insert, dr)
		case model.OpUpdate:
			metrics.Updated++
			buckets.Update = append(buckets.Update, dr)
		default:
			metrics.Skipped++
			buckets.Skip = append(buckets.Skip, dr)
		}
	}

	if allowDelete {
		storedBKs := make([]string, 0, len(stored))
		for bk := range stored {
			storedBKs = append(storedBKs, bk)
		}
		sort.Strings(storedBKs)
		for _, bk := range storedBKs {
			if _, present := seen[bk]; present {
				continue
			}
			s := stored[bk]
			metrics.Total++
			metrics.Deleted++
			buckets.Delete = append(buckets.Delete, model.DeltaRecord{
				Op:      model.OpDelete,
				BKHash:  bk,
				SinkUID: s.UID,
			})
		}
	}

	return buckets, metrics, warnings
}
