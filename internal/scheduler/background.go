package scheduler

import (
	"context"
	"time"

	"github.com/syncforge/erpsync/internal/delta"
	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/normalizer"
	"github.com/syncforge/erpsync/internal/orchestrator"
)

// ScheduleStore is the subset of internal/store's repository the
// background driver needs to read and advance a BackgroundSchedule row.
type ScheduleStore interface {
	GetBackgroundSchedule(ctx context.Context, uid string) (*model.BackgroundSchedule, error)
	UpdateBackgroundSchedule(ctx context.Context, sched model.BackgroundSchedule) error
}

// BackgroundSliceDriver runs one day's slice of a multi-day backfill:
// it computes the row offset/limit from BackgroundSchedule's
// rows_per_day (or total_rows_estimate/days_to_complete), runs the
// orchestrator over exactly that slice with sync_type=background, and
// advances current_offset/last_run_at/next_run_at.
type BackgroundSliceDriver struct {
	Orchestrator *orchestrator.Orchestrator
	Store        ScheduleStore
	Entity       model.EntityConfig
	Normalizer   normalizer.Config
	RowVersion   string
	SourceSystem string
	PageSize     int
	Strategy     delta.Strategy
}

// rowsPerSlice resolves spec.md §4.8's two configuration shapes: an
// explicit daily quota, or an estimate-divided-by-days-to-complete.
func rowsPerSlice(s model.BackgroundSchedule) int {
	if s.RowsPerDay != nil && *s.RowsPerDay > 0 {
		return *s.RowsPerDay
	}
	if s.TotalRowsEstimate != nil && s.DaysToComplete > 0 {
		n := *s.TotalRowsEstimate / s.DaysToComplete
		if n > 0 {
			return n
		}
	}
	return 0
}

// Run executes one slice for the given schedule uid. force mirrors
// trigger_sync(force): when false and the schedule is already
// Complete(), Run is a no-op. The cursor only advances when the
// slice's batch completes; a failed batch leaves current_offset and
// next_run_at untouched so the same slice is retried on the next tick.
func (d *BackgroundSliceDriver) Run(ctx context.Context, scheduleUID string, force bool) error {
	sched, err := d.Store.GetBackgroundSchedule(ctx, scheduleUID)
	if err != nil {
		return errkind.Newf(errkind.SyncExecution, "load background schedule: %v", err)
	}
	if sched == nil {
		return errkind.New(errkind.NotFound, "background schedule not registered: "+scheduleUID)
	}
	if !force && sched.Complete() {
		return nil
	}

	quota := rowsPerSlice(*sched)
	if quota <= 0 {
		return errkind.New(errkind.Configuration, "background schedule has no resolvable daily row quota")
	}
	if d.PageSize <= 0 {
		return errkind.New(errkind.Configuration, "background driver requires a positive page size")
	}

	startPage := sched.CurrentOffset/d.PageSize + 1
	pagesNeeded := (quota + d.PageSize - 1) / d.PageSize

	batch, err := d.Orchestrator.RunSync(ctx, orchestrator.RunParams{
		Entity:          d.Entity,
		NormalizerCfg:   d.Normalizer,
		RowVersionField: d.RowVersion,
		SourceSystem:    d.SourceSystem,
		SyncType:        model.SyncBackground,
		PageSize:        d.PageSize,
		StartPage:       startPage,
		MaxPages:        pagesNeeded,
		DeltaStrategy:   d.Strategy,
	})
	if err != nil {
		return err
	}
	if batch.Status == model.BatchFailed {
		return errkind.Newf(errkind.SyncExecution, "background slice batch %s failed, cursor not advanced", batch.UID)
	}

	now := time.Now().UTC()
	sched.CurrentOffset += quota
	sched.LastRunAt = &now
	next := NextDailyFire(now, mustParseWindow(sched.SyncWindowStart))
	sched.NextRunAt = &next

	return d.Store.UpdateBackgroundSchedule(ctx, *sched)
}

// mustParseWindow falls back to midnight on a malformed window string
// rather than panicking a scheduled job; EntityConfig validation at
// registration time is expected to have already rejected such rows.
func mustParseWindow(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		return TimeOfDay{}
	}
	return t
}
