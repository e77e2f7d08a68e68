package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exposed at
// /monitoring/metrics/prometheus, the real-registry replacement for
// td-sync's hand-rolled atomic-counter Metrics struct.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	syncBatchTotal  *prometheus.CounterVec
	syncRowsTotal   *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	pendingChildren prometheus.Gauge
}

// NewMetrics registers the service's collectors against the default
// registry via promauto, so promhttp.Handler() serves them without
// any manual registration bookkeeping.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor registers against an arbitrary registerer, so tests
// can pass an isolated prometheus.NewRegistry() instead of colliding
// repeated registrations against the global default.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "erpsync_http_requests_total",
			Help: "Total HTTP requests handled, by route and status class.",
		}, []string{"route", "status_class"}),
		syncBatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "erpsync_sync_batches_total",
			Help: "Completed sync batches, by entity and final status.",
		}, []string{"entity", "status"}),
		syncRowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "erpsync_sync_rows_total",
			Help: "Rows processed per batch, by entity and outcome.",
		}, []string{"entity", "bucket"}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "erpsync_sync_batch_duration_seconds",
			Help:    "Wall-clock duration of completed sync batches.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. 2048s (~34min)
		}),
		pendingChildren: f.NewGauge(prometheus.GaugeOpts{
			Name: "erpsync_pending_children",
			Help: "Unresolved parent-child rows awaiting retry.",
		}),
	}
}

func (m *Metrics) recordRequest(route, statusClass string) {
	m.requestsTotal.WithLabelValues(route, statusClass).Inc()
}

// RecordBatch records one completed batch's outcome and row counts,
// called by the orchestrator integration point after RunSync returns.
func (m *Metrics) RecordBatch(entity, status string, durationSeconds float64, inserted, updated, deleted, failed int) {
	m.syncBatchTotal.WithLabelValues(entity, status).Inc()
	m.batchDuration.Observe(durationSeconds)
	m.syncRowsTotal.WithLabelValues(entity, "inserted").Add(float64(inserted))
	m.syncRowsTotal.WithLabelValues(entity, "updated").Add(float64(updated))
	m.syncRowsTotal.WithLabelValues(entity, "deleted").Add(float64(deleted))
	m.syncRowsTotal.WithLabelValues(entity, "failed").Add(float64(failed))
}

// SetPendingChildren sets the current unresolved pending-children gauge.
func (m *Metrics) SetPendingChildren(n int) {
	m.pendingChildren.Set(float64(n))
}
