package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/syncforge/erpsync/internal/model"
)

// CreateBatch inserts a new sync_batches row.
func (s *Store) CreateBatch(ctx context.Context, batch *model.SyncBatch) error {
	metrics, err := json.Marshal(batch.Metrics)
	if err != nil {
		return fmt.Errorf("marshal batch metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_batches (uid, entity_name, sync_type, source_system, started_at, status, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, batch.UID, batch.EntityName, batch.SyncType, batch.SourceSystem, batch.StartedAt, batch.Status, metrics)
	return err
}

// UpdateBatch persists the batch's terminal status, completion time,
// metrics, and error message.
func (s *Store) UpdateBatch(ctx context.Context, batch *model.SyncBatch) error {
	metrics, err := json.Marshal(batch.Metrics)
	if err != nil {
		return fmt.Errorf("marshal batch metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sync_batches
		SET completed_at = $2, status = $3, metrics = $4, error_message = $5
		WHERE uid = $1
	`, batch.UID, batch.CompletedAt, batch.Status, metrics, batch.ErrorMessage)
	return err
}

func scanBatch(scan func(dest ...any) error) (*model.SyncBatch, error) {
	var b model.SyncBatch
	var metricsRaw []byte
	if err := scan(&b.UID, &b.EntityName, &b.SyncType, &b.SourceSystem, &b.StartedAt,
		&b.CompletedAt, &b.Status, &metricsRaw, &b.ErrorMessage); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metricsRaw, &b.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal batch metrics: %w", err)
	}
	return &b, nil
}

// GetBatch fetches one batch by uid, or nil if not found.
func (s *Store) GetBatch(ctx context.Context, uid string) (*model.SyncBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uid, entity_name, sync_type, source_system, started_at, completed_at, status, metrics, error_message
		FROM sync_batches WHERE uid = $1
	`, uid)
	b, err := scanBatch(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// ListBatchesForEntity returns the most recent batches for one entity,
// newest first, bounded by limit.
func (s *Store) ListBatchesForEntity(ctx context.Context, entityName string, limit int) ([]model.SyncBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, entity_name, sync_type, source_system, started_at, completed_at, status, metrics, error_message
		FROM sync_batches WHERE entity_name = $1
		ORDER BY started_at DESC LIMIT $2
	`, entityName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncBatch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListBatches serves /sync/history: filtered, paged across all
// entities, newest first. entityName/status empty means unfiltered.
func (s *Store) ListBatches(ctx context.Context, entityName string, status model.BatchStatus, page, pageSize int) ([]model.SyncBatch, int, error) {
	where := "WHERE ($1 = '' OR entity_name = $1) AND ($2 = '' OR status = $2)"
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sync_batches `+where, entityName, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, entity_name, sync_type, source_system, started_at, completed_at, status, metrics, error_message
		FROM sync_batches `+where+`
		ORDER BY started_at DESC LIMIT $3 OFFSET $4
	`, entityName, status, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.SyncBatch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *b)
	}
	return out, total, rows.Err()
}

// CancelBatch marks a running batch cancelled, the terminal status
// /sync/stop/{batch_uid} requests.
func (s *Store) CancelBatch(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_batches SET status = $2, completed_at = now()
		WHERE uid = $1 AND status IN ('pending', 'running')
	`, uid, model.BatchCancelled)
	return err
}

// AggregateStats is the /monitoring/stats response shape: batch counts
// by status plus outstanding failed/pending-child counts.
type AggregateStats struct {
	BatchesByStatus      map[string]int `json:"batches_by_status"`
	UnresolvedFailed     int            `json:"unresolved_failed_records"`
	UnresolvedPending    int            `json:"unresolved_pending_children"`
}

// AggregateStats computes spec.md §6's /monitoring/stats payload.
func (s *Store) AggregateStats(ctx context.Context) (AggregateStats, error) {
	var out AggregateStats
	out.BatchesByStatus = make(map[string]int)

	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM sync_batches GROUP BY status`)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return out, err
		}
		out.BatchesByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM failed_records WHERE resolved_at IS NULL`).Scan(&out.UnresolvedFailed); err != nil {
		return out, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pending_children WHERE resolved_at IS NULL`).Scan(&out.UnresolvedPending); err != nil {
		return out, err
	}
	return out, nil
}
