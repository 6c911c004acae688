package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EmailsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_emails_total",
		Help: "Emails attempted by the dispatch worker.",
	}, []string{"outcome"}) // outcome: sent, failed, skipped

	BatchesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_batches_total",
		Help: "Batches that reached a terminal status.",
	}, []string{"status"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_batch_duration_seconds",
		Help:    "Wall time of one sendBatch run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	TestEmails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_test_emails_total",
		Help: "Emails sent to test users.",
	}, []string{"outcome"})

	ProgressCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_cache_requests_total",
		Help: "Progress cache lookups.",
	}, []string{"result"}) // hit, miss, error

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts by chi route pattern so ids do not
// explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
