// internal/metrics/metrics.go

// Package metrics registers the service's Prometheus collectors.
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
	// CacheRequests counts cache lookups by key namespace and result (hit, miss, error).
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordstore_cache_requests_total",
		Help: "Cache lookups by namespace and result.",
	}, []string{"namespace", "result"})

	// MusicBrainzRequests counts upstream calls by outcome.
	MusicBrainzRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordstore_musicbrainz_requests_total",
		Help: "MusicBrainz API requests by outcome.",
	}, []string{"outcome"})

	// EnrichmentSkipped counts mutations that proceeded without metadata.
	EnrichmentSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordstore_enrichment_skipped_total",
		Help: "Record mutations that continued without MusicBrainz metadata.",
	})

	// OrdersPlaced counts successful orders.
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordstore_orders_placed_total",
		Help: "Orders placed successfully.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordstore_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recordstore_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
	}, []string{"method", "route"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
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
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
