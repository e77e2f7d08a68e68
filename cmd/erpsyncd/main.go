// Command erpsyncd is the long-running synchronization daemon: it
// loads configuration from the environment, opens the Postgres state
// store, registers each enabled entity's scheduled sync plus the
// housekeeping retry sweeps, and serves the operator HTTP surface
// until signaled to stop. Grounded on cmd/td-sync/main.go's
// load-config/open-store/start-server/wait-for-signal shape.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/syncforge/erpsync/internal/apiauth"
	"github.com/syncforge/erpsync/internal/config"
	"github.com/syncforge/erpsync/internal/delta"
	"github.com/syncforge/erpsync/internal/httpapi"
	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/normalizer"
	"github.com/syncforge/erpsync/internal/orchestrator"
	"github.com/syncforge/erpsync/internal/resolver"
	"github.com/syncforge/erpsync/internal/scheduler"
	"github.com/syncforge/erpsync/internal/sinkclient"
	"github.com/syncforge/erpsync/internal/sourceclient"
	"github.com/syncforge/erpsync/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Postgres.DSN())
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	sourceAuth := apiauth.NewTokenSource(cfg.SourceAPIToken, nil)
	sinkAuth := apiauth.NewTokenSource(cfg.SinkAPIToken, nil)
	orch := orchestrator.New(
		sourceclient.New(cfg.SourceAPIURL, sourceAuth),
		sinkclient.New(cfg.SinkAPIURL, sinkAuth),
		st,
	)

	sched := scheduler.New(time.Minute)
	sched.Start(ctx)
	defer sched.Stop()

	if err := registerJobs(ctx, sched, orch, st, cfg); err != nil {
		slog.Error("register scheduled jobs", "err", err)
		os.Exit(1)
	}

	srv := httpapi.NewServer(cfg, st, orch, sched)
	if err := srv.Start(); err != nil {
		slog.Error("start http server", "err", err)
		os.Exit(1)
	}
	slog.Info("erpsyncd started", "addr", fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort))

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
}

func setupLogging(cfg config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// registerJobs wires every enabled entity's daily sync plus the
// failed-record and pending-child retry sweeps, and the background
// slice driver for entities with a registered BackgroundSchedule.
func registerJobs(ctx context.Context, sched *scheduler.Scheduler, orch *orchestrator.Orchestrator, st *store.Store, cfg config.Config) error {
	entities, err := st.ListEnabledEntityConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list enabled entities: %w", err)
	}

	for _, ec := range entities {
		ec := ec
		if ec.SyncSchedule == nil || *ec.SyncSchedule == "" {
			continue
		}
		start, err := scheduler.ParseTimeOfDay(*ec.SyncSchedule)
		if err != nil {
			slog.Warn("skipping entity with unparsable sync_schedule", "entity", ec.EntityName, "err", err)
			continue
		}
		end := addMinutes(start, 15)

		sched.AddJob(scheduler.JobSpec{
			Name:        "sync:" + ec.EntityName,
			Kind:        scheduler.KindDailyWindowed,
			WindowStart: start,
			WindowEnd:   end,
			Fn: func(ctx context.Context, force bool) error {
				fms, err := st.ListFieldMappings(ctx, ec.EntityName)
				if err != nil {
					return err
				}
				params := orchestrator.RunParams{
					Entity:          ec,
					NormalizerCfg:   normalizer.Config{EntityName: ec.EntityName, FieldRules: fieldRules(fms)},
					RowVersionField: model.FieldRowVersion,
					SourceSystem:    cfg.SourceAPIURL,
					SyncType:        model.SyncIncremental,
					PageSize:        cfg.DefaultBatchSize,
					DeltaStrategy:   delta.StrategyAuto,
				}
				_, err = orch.RunSync(ctx, params)
				return err
			},
		})
	}

	backoffCfg := resolver.BackoffConfig{Base: cfg.RetryDelay, Max: cfg.MaxRetryDelay}
	entityCfgs := make(map[string]model.EntityConfig, len(entities))
	for _, ec := range entities {
		entityCfgs[ec.EntityName] = ec
	}

	sched.AddJob(scheduler.JobSpec{
		Name:     "retry:failed-records",
		Kind:     scheduler.KindInterval,
		Interval: time.Duration(cfg.RetryDelay.Seconds()) * time.Second,
		Fn: func(ctx context.Context, force bool) error {
			return sweepFailedRecords(ctx, orch, st, entities, backoffCfg)
		},
	})

	sched.AddJob(scheduler.JobSpec{
		Name:     "pending:retry",
		Kind:     scheduler.KindInterval,
		Interval: time.Duration(cfg.RetryDelay.Seconds()) * time.Second,
		Fn: func(ctx context.Context, force bool) error {
			return sweepPendingChildren(ctx, orch, st, entities, entityCfgs, backoffCfg)
		},
	})

	schedules, err := st.ListEnabledBackgroundSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list background schedules: %w", err)
	}
	for _, bs := range schedules {
		bs := bs
		start, err := scheduler.ParseTimeOfDay(bs.SyncWindowStart)
		if err != nil {
			slog.Warn("skipping background schedule with unparsable window", "uid", bs.UID, "err", err)
			continue
		}
		end, err := scheduler.ParseTimeOfDay(bs.SyncWindowEnd)
		if err != nil {
			end = addMinutes(start, 60)
		}

		ec, err := st.GetEntityConfig(ctx, bs.EntityName)
		if err != nil || ec == nil {
			slog.Warn("skipping background schedule with no entity config", "uid", bs.UID, "entity", bs.EntityName, "err", err)
			continue
		}
		fms, err := st.ListFieldMappings(ctx, bs.EntityName)
		if err != nil {
			slog.Warn("skipping background schedule: list field mappings", "uid", bs.UID, "entity", bs.EntityName, "err", err)
			continue
		}

		driver := &scheduler.BackgroundSliceDriver{
			Orchestrator: orch,
			Store:        st,
			Entity:       *ec,
			Normalizer:   normalizer.Config{EntityName: bs.EntityName, FieldRules: fieldRules(fms)},
			RowVersion:   model.FieldRowVersion,
			SourceSystem: cfg.SourceAPIURL,
			PageSize:     cfg.DefaultBatchSize,
			Strategy:     delta.StrategyAuto,
		}
		sched.AddJob(scheduler.JobSpec{
			Name:        "background:" + bs.UID,
			Kind:        scheduler.KindDailyWindowed,
			WindowStart: start,
			WindowEnd:   end,
			Fn: func(ctx context.Context, force bool) error {
				return driver.Run(ctx, bs.UID, force)
			},
		})
	}

	return nil
}

func fieldRules(fms []model.FieldMapping) []normalizer.FieldRule {
	rules := make([]normalizer.FieldRule, 0, len(fms))
	for _, fm := range fms {
		rules = append(rules, normalizer.FieldRule{
			SourceField:    fm.SourceField,
			TargetField:    fm.TargetField,
			Transformation: fm.Transformation,
			Required:       fm.IsRequired,
			Default:        fm.DefaultValue,
		})
	}
	return rules
}

// sweepFailedRecords replays each dead-letter record eligible for
// retry from its failed stage forward (spec.md §7's retry job), marking
// it resolved on success or advancing its backoff on failure.
func sweepFailedRecords(ctx context.Context, orch *orchestrator.Orchestrator, st *store.Store, entities []model.EntityConfig, backoffCfg resolver.BackoffConfig) error {
	for _, ec := range entities {
		records, err := st.ListRetryableFailedRecords(ctx, ec.EntityName)
		if err != nil {
			return err
		}
		rc := orchestrator.RetryContext{Entity: ec, RowVersionField: model.FieldRowVersion}
		for _, fr := range records {
			if err := orch.RetryFailedRecord(ctx, rc, fr); err != nil {
				slog.Info("failed record retry unsuccessful", "entity", ec.EntityName, "uid", fr.UID, "retry_count", fr.RetryCount, "err", err)
				next := resolver.NextRetryAt(time.Now().UTC(), backoffCfg, fr.RetryCount+1)
				if advErr := st.AdvanceFailedRecordRetry(ctx, fr.UID, sql.NullTime{Time: next, Valid: true}); advErr != nil {
					return advErr
				}
				continue
			}
			if err := st.MarkFailedRecordResolved(ctx, fr.UID); err != nil {
				return err
			}
			slog.Info("failed record resolved on retry", "entity", ec.EntityName, "uid", fr.UID)
		}
	}
	return nil
}

// sweepPendingChildren re-checks each entity as a potential parent:
// every child still waiting on it whose backoff has elapsed gets its
// parent existence re-checked and, if present, its ingest retried
// (spec.md §4.4's per-tick resolver protocol). A child that exhausts
// its retries is promoted to a FailedRecord at stage "resolve" and
// removed from the pending queue.
func sweepPendingChildren(ctx context.Context, orch *orchestrator.Orchestrator, st *store.Store, entities []model.EntityConfig, entityCfgs map[string]model.EntityConfig, backoffCfg resolver.BackoffConfig) error {
	for _, parent := range entities {
		children, err := st.ListRetryablePendingChildren(ctx, parent.EntityName)
		if err != nil {
			return err
		}
		for _, pc := range children {
			childCfg, ok := entityCfgs[pc.ChildEntity]
			if !ok {
				slog.Warn("pending child references an unknown entity config", "child_entity", pc.ChildEntity, "uid", pc.UID)
				continue
			}
			rc := orchestrator.RetryContext{Entity: childCfg, RowVersionField: model.FieldRowVersion}

			resolved, updated, err := orch.RetryPendingChild(ctx, rc, pc, backoffCfg)
			if err != nil {
				slog.Info("pending child retry check failed", "child_entity", pc.ChildEntity, "uid", pc.UID, "err", err)
				continue
			}
			if resolved {
				if err := st.MarkPendingChildResolved(ctx, pc.UID); err != nil {
					return err
				}
				slog.Info("pending child resolved", "child_entity", pc.ChildEntity, "uid", pc.UID)
				continue
			}

			if resolver.Exhausted(updated) {
				id, err := uuid.NewV7()
				if err != nil {
					return fmt.Errorf("generate failed record uid: %w", err)
				}
				fr := model.FailedRecord{
					UID:          id.String(),
					BatchUID:     pc.BatchUID,
					EntityName:   pc.ChildEntity,
					RawData:      pc.ChildPayload,
					StageFailed:  "resolve",
					ErrorType:    "parent_child",
					ErrorMessage: "parent " + pc.ParentEntity + " never arrived within max_retries",
					MaxRetries:   model.DefaultFailedRecordMaxRetries,
					CreatedAt:    time.Now().UTC(),
				}
				if err := st.SaveFailedRecord(ctx, fr); err != nil {
					return err
				}
				if err := st.AdvancePendingChildRetry(ctx, pc.UID, sql.NullTime{}); err != nil {
					return err
				}
				slog.Info("pending child exhausted retries, moved to failed records", "child_entity", pc.ChildEntity, "uid", pc.UID)
				continue
			}

			var next sql.NullTime
			if updated.NextRetryAt != nil {
				next = sql.NullTime{Time: *updated.NextRetryAt, Valid: true}
			}
			if err := st.AdvancePendingChildRetry(ctx, pc.UID, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func addMinutes(t scheduler.TimeOfDay, minutes int) scheduler.TimeOfDay {
	total := t.Hour*3600 + t.Min*60 + t.Sec + minutes*60
	total %= 86400
	return scheduler.TimeOfDay{Hour: total / 3600, Min: (total % 3600) / 60, Sec: total % 60}
}
