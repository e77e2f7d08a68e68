package orchestrator

import (
	"context"
	"time"

	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/identity"
	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/resolver"
)

// RetryContext supplies the per-entity configuration a single-record
// retry needs — the same pieces a full RunSync takes via RunParams,
// minus anything only meaningful to a batch (paging, delta strategy).
type RetryContext struct {
	Entity          model.EntityConfig
	RowVersionField string
}

// RetryFailedRecord replays one dead-letter record from its failed
// stage forward: it picks the most-progressed payload the record
// carries (mapped, else normalized, else raw), re-stamps identity if
// that hasn't happened yet, re-detects parent references, re-checks
// resolution, and re-attempts the sink write. A nil return means the
// record is resolved; callers should mark it so. Any error means the
// attempt is still unsuccessful and the caller should advance the
// record's retry bookkeeping instead.
func (o *Orchestrator) RetryFailedRecord(ctx context.Context, rc RetryContext, fr model.FailedRecord) error {
	record := fr.MappedData
	if len(record) == 0 {
		record = fr.NormalizedData
	}
	if len(record) == 0 {
		record = fr.RawData
	}
	if len(record) == 0 {
		return errkind.New(errkind.Validation, "failed record carries no replayable payload")
	}

	stamped := record
	if stamped.BusinessKeyHash() == "" {
		s, err := identity.Stamp(rc.Entity.EntityName, record, rc.Entity.BusinessKeyFields, rc.RowVersionField)
		if err != nil {
			return errkind.Newf(errkind.Identity, "retry identity: %v", err)
		}
		stamped = s
	}

	withRefs, err := resolver.DetectParentRefs(rc.Entity, stamped)
	if err != nil {
		return errkind.Newf(errkind.ParentChild, "retry parent_refs: %v", err)
	}

	outcome, err := resolver.Resolve(ctx, rc.Entity, o.Sink, withRefs)
	if err != nil {
		return errkind.Newf(errkind.ParentChild, "retry resolve: %v", err)
	}
	if !outcome.Ready {
		return errkind.New(errkind.ParentChild, "retry still blocked on a missing parent")
	}

	return o.writeToSink(ctx, rc.Entity.EntityName, withRefs)
}

// RetryPendingChild re-checks whether a queued child's parents now
// exist and, if so, re-attempts its ingest. It never returns an error
// for an ordinary unsuccessful attempt — that outcome is reported
// through the returned PendingChild's advanced RetryCount/NextRetryAt,
// which the caller persists via the pending-children repository. A
// non-nil error means the resolution check itself could not be
// performed (e.g. the sink is unreachable) and the caller should leave
// the row untouched for the next tick.
func (o *Orchestrator) RetryPendingChild(ctx context.Context, rc RetryContext, pc model.PendingChild, backoffCfg resolver.BackoffConfig) (resolved bool, updated model.PendingChild, err error) {
	outcome, err := resolver.Resolve(ctx, rc.Entity, o.Sink, pc.ChildPayload)
	if err != nil {
		return false, pc, err
	}
	if !outcome.Ready {
		return false, resolver.AdvanceRetry(time.Now().UTC(), backoffCfg, pc), nil
	}

	if werr := o.writeToSink(ctx, pc.ChildEntity, pc.ChildPayload); werr != nil {
		return false, resolver.AdvanceRetry(time.Now().UTC(), backoffCfg, pc), nil
	}
	return true, pc, nil
}

// writeToSink inserts a record, or updates it in place if the sink
// already holds a record with the same business-key hash — the same
// insert-vs-update branch the DELTA stage's bucket classification
// performs for a whole batch, collapsed to one record for a retry.
func (o *Orchestrator) writeToSink(ctx context.Context, entity string, record model.Record) error {
	existing, err := o.Sink.GetByBKHash(ctx, entity, record.BusinessKeyHash())
	if err != nil {
		return errkind.Newf(errkind.Delta, "retry lookup stored state: %v", err)
	}
	if existing != nil {
		if err := o.Sink.Update(ctx, entity, existing.UID, record); err != nil {
			return errkind.Newf(errkind.SyncExecution, "retry sink update: %v", err)
		}
		return nil
	}
	if _, err := o.Sink.Insert(ctx, entity, record); err != nil {
		return errkind.Newf(errkind.SyncExecution, "retry sink insert: %v", err)
	}
	return nil
}
