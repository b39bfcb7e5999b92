package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngnshed_http_requests_total",
			Help: "Total number of HTTP requests by route, protocol and status.",
		},
		[]string{"method", "path", "proto", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ngnshed_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	connectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ngnshed_connections_open",
			Help: "Number of client connections with a live shed.",
		},
	)

	inlineFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngnshed_inline_fallback_total",
			Help: "Total number of requests processed on the connection because no engine took them.",
		},
		[]string{"engine_type", "reason"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(connectionsOpen)
	prometheus.MustRegister(inlineFallbackTotal)
}

// metricsMiddleware labels requests with the chi route pattern, never the
// raw path, and with the protocol so HTTP/2 streams sharing a connection
// can be told apart from HTTP/1 requests.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, protoLabel(r), strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func protoLabel(r *http.Request) string {
	if r.ProtoMajor == 2 {
		return "h2"
	}
	return "http/1"
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler serves the default registry, in OpenMetrics when asked.
func metricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
