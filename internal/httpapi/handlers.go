package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/orchestrator"
	"github.com/syncforge/erpsync/internal/resolver"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "erpsync",
		"app_env":     s.cfg.AppEnv,
		"uptime_secs": time.Since(s.started).Seconds(),
	})
}

type syncStartRequest struct {
	EntityName string `json:"entity_name"`
	SyncType   string `json:"sync_type"` // "full" | "incremental"; defaults to incremental
}

type syncStartResponse struct {
	BatchUID string `json:"batch_uid"`
}

// handleSyncStart implements POST /sync/start: validates the entity,
// pre-assigns a batch uid, starts the run in the background, and
// returns 202 immediately — the batch row itself is created
// synchronously inside RunSync before any stage runs, so a subsequent
// /sync/status call never races an empty lookup for long.
func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	var req syncStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.EntityName == "" {
		writeError(w, http.StatusBadRequest, "validation", "entity_name is required")
		return
	}

	syncType := model.SyncIncremental
	switch req.SyncType {
	case "", string(model.SyncIncremental):
		syncType = model.SyncIncremental
	case string(model.SyncFull):
		syncType = model.SyncFull
	default:
		writeError(w, http.StatusBadRequest, "validation", "sync_type must be full or incremental")
		return
	}

	params, err := buildRunParams(r.Context(), s.store, s.sourceSystemOf(), req.EntityName, syncType, s.cfg.DefaultBatchSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	batchID, err := uuid.NewV7()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "generate batch uid")
		return
	}
	params.BatchUID = batchID.String()

	s.runAsync(params)
	writeJSON(w, http.StatusAccepted, syncStartResponse{BatchUID: params.BatchUID})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	batchUID := r.PathValue("batch_uid")
	batch, err := s.store.GetBatch(r.Context(), batchUID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	batchUID := r.PathValue("batch_uid")
	s.cancelRun(batchUID) // best-effort: no-op if the batch isn't currently running in this process
	if err := s.store.CancelBatch(r.Context(), batchUID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"batch_uid": batchUID, "status": string(model.BatchCancelled)})
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 50
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			pageSize = n
		}
	}
	return page, pageSize
}

type pagedResponse struct {
	Items    any `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	entityName := r.URL.Query().Get("entity_name")
	status := model.BatchStatus(r.URL.Query().Get("status"))

	batches, total, err := s.store.ListBatches(r.Context(), entityName, status, page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: batches, Total: total, Page: page, PageSize: pageSize})
}

type retryFailedRequest struct {
	EntityName string `json:"entity_name"`
}

// handleRetryFailed is the manual-trigger counterpart to the
// scheduled retry:failed-records sweep: it immediately replays every
// retryable failed record for the given entity from its failed stage
// forward, resolving it on success or advancing its backoff on
// another failure, rather than only bumping retry bookkeeping.
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	var req retryFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityName == "" {
		writeError(w, http.StatusBadRequest, "validation", "entity_name is required")
		return
	}
	entity, err := s.store.GetEntityConfig(r.Context(), req.EntityName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if entity == nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown entity_name: "+req.EntityName)
		return
	}
	failed, err := s.store.ListRetryableFailedRecords(r.Context(), req.EntityName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	backoffCfg := resolver.BackoffConfig{Base: s.cfg.RetryDelay, Max: s.cfg.MaxRetryDelay}
	rc := orchestrator.RetryContext{Entity: *entity, RowVersionField: model.FieldRowVersion}
	resolved := 0
	for _, fr := range failed {
		if err := s.orch.RetryFailedRecord(r.Context(), rc, fr); err != nil {
			next := sql.NullTime{Time: resolver.NextRetryAt(time.Now().UTC(), backoffCfg, fr.RetryCount+1), Valid: true}
			if err := s.store.AdvanceFailedRecordRetry(r.Context(), fr.UID, next); err != nil {
				writeError(w, http.StatusInternalServerError, "internal", err.Error())
				return
			}
			continue
		}
		if err := s.store.MarkFailedRecordResolved(r.Context(), fr.UID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		resolved++
	}
	writeJSON(w, http.StatusOK, map[string]int{"attempted": len(failed), "resolved": resolved})
}

func (s *Server) handleMonitoringStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.AggregateStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.metrics.SetPendingChildren(stats.UnresolvedPending)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFailedRecords(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	entityName := r.URL.Query().Get("entity_name")
	records, total, err := s.store.ListFailedRecordsPaged(r.Context(), entityName, page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: records, Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) handlePendingChildren(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	entityName := r.URL.Query().Get("entity_name")
	children, total, err := s.store.ListPendingChildrenPaged(r.Context(), entityName, page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: children, Total: total, Page: page, PageSize: pageSize})
}

// handleHealthDetailed probes the one hard dependency (Postgres) plus
// reports the scheduler's registered jobs, per spec.md §6's
// "dependency probes" contract.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	var dbErr string
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		dbOK = false
		dbErr = err.Error()
	}

	var jobs []string
	if s.sched != nil {
		for _, j := range s.sched.ListJobs() {
			jobs = append(jobs, j.Name)
		}
	}

	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"postgres_ok":     dbOK,
		"postgres_error":  dbErr,
		"scheduled_jobs":  jobs,
	})
}
