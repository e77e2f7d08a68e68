package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
)

type contextKey int

const ctxKeyRequestID contextKey = iota

func newRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func getRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// requestIDMiddleware stamps every request with an id, echoed back in
// the X-Request-Id response header for operator-side correlation.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := newRequestID()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs one structured line per request, the
// td-sync server's loggerMiddleware generalized to log directly
// instead of stashing a per-request *slog.Logger in context.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"rid", getRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware records per-route request counts, bucketing
// status codes into classes (2xx/4xx/5xx) rather than exact codes to
// keep the label cardinality bounded.
func metricsMiddleware(m *Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.recordRequest(route, strconv.Itoa(rec.status/100)+"xx")
		})
	}
}

// corsMiddleware wraps the monitoring/admin surface with go-chi/cors,
// open by default (same-origin operator tooling) since spec.md names
// no cross-origin requirement; restrict AllowedOrigins via config if
// the dashboard ever moves off-host.
func corsMiddleware(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}

// requireInternalAuth enforces a bearer token matching
// INTERNAL_SERVICE_JWT_SECRET on the sync-control surface (POST
// /sync/start, /sync/stop, /sync/retry-failed), per spec.md §6's
// INTERNAL_SERVICE_JWT_SECRET variable. Monitoring and read endpoints,
// including GET /sync/status and /sync/history, stay open to any
// caller on the service network.
func requireInternalAuth(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "authentication", "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}
