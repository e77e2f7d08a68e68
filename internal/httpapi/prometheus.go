package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promHandler serves the default registry in text exposition format,
// the target of /monitoring/metrics/prometheus.
func promHandler() http.Handler {
	return promhttp.Handler()
}
