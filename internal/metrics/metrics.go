// Package metrics holds the Prometheus collectors shared by the gateway and
// the chat API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raine/reellytics-gateway/internal/auth"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "status"})

	// TokenResolutions counts session checks by the state they ended in.
	TokenResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_resolutions_total",
		Help: "Session token checks by resulting state.",
	}, []string{"result"})

	SignOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sign_outs_total",
		Help: "Completed sign-outs by trigger.",
	}, []string{"trigger"})

	SessionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_pruned_total",
		Help: "Sessions removed by the background sweeper.",
	})

	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_api_failures_total",
		Help: "Failed calls to the chat API by kind.",
	}, []string{"kind"})
)

// ResolutionResult is the label recorded for a resolved token set.
func ResolutionResult(ts auth.TokenSet, refreshed bool) string {
	switch {
	case ts.Error != "":
		return string(ts.Error)
	case refreshed:
		return "refreshed"
	default:
		return "valid"
	}
}

// Middleware records RED metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route pattern (e.g. /api/chats/{id}) keeps label cardinality bounded
		routeCtx := chi.RouteContext(r.Context())
		path := r.URL.Path
		if routeCtx != nil && routeCtx.RoutePattern() != "" {
			path = routeCtx.RoutePattern()
		}

		status := strconv.Itoa(ww.Status())
		httpDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(path, r.Method, status).Inc()
	})
}
