package store

import (
	"context"
	"database/sql"

	"github.com/syncforge/erpsync/internal/model"
)

const backgroundScheduleColumns = `uid, entity_name, source_system, is_enabled, sync_window_start, sync_window_end,
	days_to_complete, rows_per_day, total_rows_estimate, current_offset, last_run_at, next_run_at`

func scanBackgroundSchedule(scan func(dest ...any) error) (*model.BackgroundSchedule, error) {
	var b model.BackgroundSchedule
	if err := scan(&b.UID, &b.EntityName, &b.SourceSystem, &b.IsEnabled, &b.SyncWindowStart, &b.SyncWindowEnd,
		&b.DaysToComplete, &b.RowsPerDay, &b.TotalRowsEstimate, &b.CurrentOffset, &b.LastRunAt, &b.NextRunAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBackgroundSchedule fetches one backfill schedule by uid, or nil if
// not registered. Satisfies scheduler.ScheduleStore.
func (s *Store) GetBackgroundSchedule(ctx context.Context, uid string) (*model.BackgroundSchedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backgroundScheduleColumns+` FROM background_sync_schedule WHERE uid = $1`, uid)
	b, err := scanBackgroundSchedule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// ListEnabledBackgroundSchedules returns every schedule with
// is_enabled = true, the set the scheduler registers daily-windowed
// background jobs for at startup.
func (s *Store) ListEnabledBackgroundSchedules(ctx context.Context) ([]model.BackgroundSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+backgroundScheduleColumns+` FROM background_sync_schedule WHERE is_enabled = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BackgroundSchedule
	for rows.Next() {
		b, err := scanBackgroundSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// UpdateBackgroundSchedule persists the slice driver's progress:
// current_offset, last_run_at, and the computed next_run_at. Satisfies
// scheduler.ScheduleStore.
func (s *Store) UpdateBackgroundSchedule(ctx context.Context, sched model.BackgroundSchedule) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE background_sync_schedule
		SET current_offset = $2, last_run_at = $3, next_run_at = $4
		WHERE uid = $1
	`, sched.UID, sched.CurrentOffset, sched.LastRunAt, sched.NextRunAt)
	return err
}

// CreateBackgroundSchedule registers a new multi-day backfill.
func (s *Store) CreateBackgroundSchedule(ctx context.Context, sched model.BackgroundSchedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO background_sync_schedule
			(uid, entity_name, source_system, is_enabled, sync_window_start, sync_window_end,
			 days_to_complete, rows_per_day, total_rows_estimate, current_offset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sched.UID, sched.EntityName, sched.SourceSystem, sched.IsEnabled, sched.SyncWindowStart, sched.SyncWindowEnd,
		sched.DaysToComplete, sched.RowsPerDay, sched.TotalRowsEstimate, sched.CurrentOffset)
	return err
}
