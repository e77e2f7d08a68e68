package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/syncforge/erpsync/internal/model"
)

// SavePendingChild inserts a child record awaiting parent resolution.
func (s *Store) SavePendingChild(ctx context.Context, pc model.PendingChild) error {
	payload, err := json.Marshal(pc.ChildPayload)
	if err != nil {
		return fmt.Errorf("marshal child_payload: %w", err)
	}
	if pc.MaxRetries == 0 {
		pc.MaxRetries = model.DefaultPendingChildMaxRetries
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_children
			(uid, batch_uid, child_entity, parent_entity, parent_bk_hash, child_payload,
			 retry_count, max_retries, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pc.UID, pc.BatchUID, pc.ChildEntity, pc.ParentEntity, pc.ParentBKHash, payload,
		pc.RetryCount, pc.MaxRetries, pc.NextRetryAt, pc.CreatedAt)
	return err
}

const pendingChildColumns = `uid, batch_uid, child_entity, parent_entity, parent_bk_hash, child_payload,
	retry_count, max_retries, next_retry_at, resolved_at, created_at`

func scanPendingChild(scan func(dest ...any) error) (*model.PendingChild, error) {
	var pc model.PendingChild
	var payload []byte
	if err := scan(&pc.UID, &pc.BatchUID, &pc.ChildEntity, &pc.ParentEntity, &pc.ParentBKHash, &payload,
		&pc.RetryCount, &pc.MaxRetries, &pc.NextRetryAt, &pc.ResolvedAt, &pc.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &pc.ChildPayload); err != nil {
		return nil, fmt.Errorf("unmarshal child_payload: %w", err)
	}
	return &pc, nil
}

// ListRetryablePendingChildren returns unresolved children, still under
// their retry budget, whose parent has a chance of now existing.
func (s *Store) ListRetryablePendingChildren(ctx context.Context, parentEntity string) ([]model.PendingChild, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingChildColumns+` FROM pending_children
		WHERE parent_entity = $1 AND resolved_at IS NULL AND retry_count < max_retries
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC
	`, parentEntity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PendingChild
	for rows.Next() {
		pc, err := scanPendingChild(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *pc)
	}
	return out, rows.Err()
}

// AdvancePendingChildRetry increments retry_count and sets the next retry time.
func (s *Store) AdvancePendingChildRetry(ctx context.Context, uid string, nextRetryAt sql.NullTime) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_children SET retry_count = retry_count + 1, next_retry_at = $2
		WHERE uid = $1
	`, uid, nextRetryAt)
	return err
}

// MarkPendingChildResolved sets resolved_at to now, once the parent has
// been confirmed present and the child successfully ingested.
func (s *Store) MarkPendingChildResolved(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pending_children SET resolved_at = now() WHERE uid = $1`, uid)
	return err
}

// ListPendingChildrenPaged serves /monitoring/pending-children: all
// children across entities, newest first, paged.
func (s *Store) ListPendingChildrenPaged(ctx context.Context, childEntity string, page, pageSize int) ([]model.PendingChild, int, error) {
	where := "WHERE ($1 = '' OR child_entity = $1)"
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pending_children `+where, childEntity).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingChildColumns+` FROM pending_children `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, childEntity, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.PendingChild
	for rows.Next() {
		pc, err := scanPendingChild(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *pc)
	}
	return out, total, rows.Err()
}
