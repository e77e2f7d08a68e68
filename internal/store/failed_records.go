package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/syncforge/erpsync/internal/model"
)

// SaveFailedRecord inserts a dead-letter entry.
func (s *Store) SaveFailedRecord(ctx context.Context, fr model.FailedRecord) error {
	raw, err := json.Marshal(fr.RawData)
	if err != nil {
		return fmt.Errorf("marshal raw_data: %w", err)
	}
	normalized, err := json.Marshal(fr.NormalizedData)
	if err != nil {
		return fmt.Errorf("marshal normalized_data: %w", err)
	}
	mapped, err := json.Marshal(fr.MappedData)
	if err != nil {
		return fmt.Errorf("marshal mapped_data: %w", err)
	}
	if fr.MaxRetries == 0 {
		fr.MaxRetries = model.DefaultFailedRecordMaxRetries
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO failed_records
			(uid, batch_uid, entity_name, raw_data, normalized_data, mapped_data,
			 stage_failed, error_type, error_message, retry_count, max_retries, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, fr.UID, fr.BatchUID, fr.EntityName, raw, normalized, mapped,
		fr.StageFailed, fr.ErrorType, fr.ErrorMessage, fr.RetryCount, fr.MaxRetries, fr.NextRetryAt, fr.CreatedAt)
	return err
}

func scanFailedRecord(scan func(dest ...any) error) (*model.FailedRecord, error) {
	var fr model.FailedRecord
	var raw, normalized, mapped []byte
	if err := scan(&fr.UID, &fr.BatchUID, &fr.EntityName, &raw, &normalized, &mapped,
		&fr.StageFailed, &fr.ErrorType, &fr.ErrorMessage, &fr.RetryCount, &fr.MaxRetries,
		&fr.NextRetryAt, &fr.ResolvedAt, &fr.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &fr.RawData); err != nil {
		return nil, fmt.Errorf("unmarshal raw_data: %w", err)
	}
	if len(normalized) > 0 {
		if err := json.Unmarshal(normalized, &fr.NormalizedData); err != nil {
			return nil, fmt.Errorf("unmarshal normalized_data: %w", err)
		}
	}
	if len(mapped) > 0 {
		if err := json.Unmarshal(mapped, &fr.MappedData); err != nil {
			return nil, fmt.Errorf("unmarshal mapped_data: %w", err)
		}
	}
	return &fr, nil
}

const failedRecordColumns = `uid, batch_uid, entity_name, raw_data, normalized_data, mapped_data,
	stage_failed, error_type, error_message, retry_count, max_retries, next_retry_at, resolved_at, created_at`

// GetFailedRecord fetches one dead-letter entry by uid, or nil if not found.
func (s *Store) GetFailedRecord(ctx context.Context, uid string) (*model.FailedRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+failedRecordColumns+` FROM failed_records WHERE uid = $1`, uid)
	fr, err := scanFailedRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return fr, err
}

// ListRetryableFailedRecords returns unresolved failed records for an
// entity whose next_retry_at has elapsed (or is unset) and whose
// retry_count is still under max_retries.
func (s *Store) ListRetryableFailedRecords(ctx context.Context, entityName string) ([]model.FailedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+failedRecordColumns+` FROM failed_records
		WHERE entity_name = $1 AND resolved_at IS NULL AND retry_count < max_retries
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC
	`, entityName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FailedRecord
	for rows.Next() {
		fr, err := scanFailedRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *fr)
	}
	return out, rows.Err()
}

// AdvanceFailedRecordRetry increments retry_count and sets the next retry time.
func (s *Store) AdvanceFailedRecordRetry(ctx context.Context, uid string, nextRetryAt sql.NullTime) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE failed_records SET retry_count = retry_count + 1, next_retry_at = $2
		WHERE uid = $1
	`, uid, nextRetryAt)
	return err
}

// MarkFailedRecordResolved sets resolved_at to now, removing the entry
// from future retry sweeps.
func (s *Store) MarkFailedRecordResolved(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE failed_records SET resolved_at = now() WHERE uid = $1`, uid)
	return err
}

// ListFailedRecordsPaged serves /monitoring/failed-records: all
// entities' dead-letter entries, newest first, paged.
func (s *Store) ListFailedRecordsPaged(ctx context.Context, entityName string, page, pageSize int) ([]model.FailedRecord, int, error) {
	where := "WHERE ($1 = '' OR entity_name = $1)"
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM failed_records `+where, entityName).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+failedRecordColumns+` FROM failed_records `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, entityName, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.FailedRecord
	for rows.Next() {
		fr, err := scanFailedRecord(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *fr)
	}
	return out, total, rows.Err()
}
