package httpapi

import "net/http"

// routes builds the full handler tree. Monitoring and health routes
// are open; the sync-control surface requires the internal service
// bearer token per spec.md §6.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/v1/health", s.withMetrics("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/v1/metadata", s.withMetrics("metadata", http.HandlerFunc(s.handleMetadata)))

	mux.Handle("POST /api/v1/sync/start", s.withMetrics("sync_start",
		requireInternalAuth(s.cfg.InternalServiceJWTSecret, s.handleSyncStart)))
	mux.Handle("GET /api/v1/sync/status/{batch_uid}", s.withMetrics("sync_status", http.HandlerFunc(s.handleSyncStatus)))
	mux.Handle("POST /api/v1/sync/stop/{batch_uid}", s.withMetrics("sync_stop",
		requireInternalAuth(s.cfg.InternalServiceJWTSecret, s.handleSyncStop)))
	mux.Handle("GET /api/v1/sync/history", s.withMetrics("sync_history", http.HandlerFunc(s.handleSyncHistory)))
	mux.Handle("POST /api/v1/sync/retry-failed", s.withMetrics("sync_retry_failed",
		requireInternalAuth(s.cfg.InternalServiceJWTSecret, s.handleRetryFailed)))

	mux.Handle("GET /api/v1/monitoring/stats", s.withMetrics("monitoring_stats", http.HandlerFunc(s.handleMonitoringStats)))
	mux.Handle("GET /api/v1/monitoring/failed-records", s.withMetrics("monitoring_failed_records", http.HandlerFunc(s.handleFailedRecords)))
	mux.Handle("GET /api/v1/monitoring/pending-children", s.withMetrics("monitoring_pending_children", http.HandlerFunc(s.handlePendingChildren)))
	mux.Handle("GET /api/v1/monitoring/health/detailed", s.withMetrics("monitoring_health_detailed", http.HandlerFunc(s.handleHealthDetailed)))
	mux.Handle("GET /api/v1/monitoring/metrics/prometheus", promHandler())

	return requestIDMiddleware(loggingMiddleware(corsMiddleware(mux)))
}

func (s *Server) withMetrics(route string, h http.Handler) http.Handler {
	return metricsMiddleware(s.metrics, route)(h)
}
