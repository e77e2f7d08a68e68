// Package httpapi implements the operator-facing HTTP surface
// (liveness, sync control, monitoring) documented in spec.md §6,
// grounded on td-sync's internal/api server: a net/http.Server wired
// with structured logging, in-process metrics, and a plain ServeMux.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/syncforge/erpsync/internal/config"
	"github.com/syncforge/erpsync/internal/orchestrator"
	"github.com/syncforge/erpsync/internal/scheduler"
	"github.com/syncforge/erpsync/internal/store"
)

// Server is the erpsyncd HTTP API.
type Server struct {
	cfg     config.Config
	store   *store.Store
	orch    *orchestrator.Orchestrator
	sched   *scheduler.Scheduler
	metrics *Metrics
	http    *http.Server
	started time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc // batch_uid -> cancel, for /sync/stop
}

// NewServer wires the HTTP surface to the daemon's orchestrator,
// scheduler, and state store.
func NewServer(cfg config.Config, st *store.Store, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		orch:    orch,
		sched:   sched,
		metrics: NewMetrics(),
		started: time.Now(),
		running: make(map[string]context.CancelFunc),
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server, cancelling any in-flight runs
// started through /sync/start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	return s.http.Shutdown(ctx)
}

func (s *Server) trackRun(batchUID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[batchUID] = cancel
	s.mu.Unlock()
}

func (s *Server) untrackRun(batchUID string) {
	s.mu.Lock()
	delete(s.running, batchUID)
	s.mu.Unlock()
}

func (s *Server) cancelRun(batchUID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[batchUID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// runAsync starts RunSync in the background and records the outcome
// against Prometheus metrics once it completes. It returns without
// waiting, so /sync/start answers 202 before the batch row is written.
func (s *Server) runAsync(p orchestrator.RunParams) {
	ctx, cancel := context.WithCancel(context.Background())
	s.trackRun(p.BatchUID, cancel)
	go func() {
		defer cancel()
		defer s.untrackRun(p.BatchUID)
		batch, err := s.orch.RunSync(ctx, p)
		if err != nil {
			slog.Error("sync run failed", "entity", p.Entity.EntityName, "batch_uid", p.BatchUID, "err", err)
			return
		}
		duration := 0.0
		if batch.CompletedAt != nil {
			duration = batch.CompletedAt.Sub(batch.StartedAt).Seconds()
		}
		s.metrics.RecordBatch(batch.EntityName, string(batch.Status), duration,
			batch.Metrics.RowsInserted, batch.Metrics.RowsUpdated, batch.Metrics.RowsDeleted, batch.Metrics.RowsFailed)
	}()
}

// sourceSystemOf names the source system label attached to batches
// and sync state; derived from the configured source URL since
// spec.md's data model has no separate "source system name" input.
func (s *Server) sourceSystemOf() string {
	if s.cfg.SourceAPIURL != "" {
		return s.cfg.SourceAPIURL
	}
	return "default"
}
