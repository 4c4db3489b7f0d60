package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds all HTTP-related metrics.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestDur     *prometheus.HistogramVec
	responseSize   *prometheus.HistogramVec
	activeRequests prometheus.Gauge
}

// NewHTTPMetrics registers the HTTP collectors on reg. A nil reg creates an
// unregistered set, which is what tests that do not scrape want.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)

	return &HTTPMetrics{
		// Total requests by endpoint, method, and status
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests labeled by method, endpoint route and status code.",
		}, []string{"method", "endpoint", "status"}),

		requestDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gantry",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "endpoint", "status"}),

		responseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gantry",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response body size in bytes.",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		}, []string{"method", "endpoint", "status"}),

		activeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gantry",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status
				// label reflects what the client received.
				c.Error(err)
			}

			labels := prometheus.Labels{
				"method":   c.Request().Method,
				"endpoint": normalizePath(c.Path()),
				"status":   strconv.Itoa(c.Response().Status),
			}
			m.requestsTotal.With(labels).Inc()
			m.requestDur.With(labels).Observe(time.Since(start).Seconds())
			m.responseSize.With(labels).Observe(float64(c.Response().Size))

			return nil
		}
	}
}

// normalizePath keeps the label set bounded. Echo reports the route
// template (/api/v1/missions/:id), so only unmatched requests need folding.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
