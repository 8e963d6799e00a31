package proxy

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intellirouter/intellirouter/internal/metrics"
)

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// metricsHandler wraps m's registry in the standard promhttp handler,
// falling back to an empty 200 when metrics haven't been wired (e.g. in
// tests that construct a Server without a *metrics.Metrics).
func metricsHandler(m *metrics.Metrics) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
