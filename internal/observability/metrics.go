package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for the HTTP edge and its gates.
// A nil *Metrics is a valid no-op.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route, method, and status code.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lms",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Name:      "http_errors_total",
			Help:      "Error responses by route, method, and error code, including gate denials.",
		}, []string{"route", "method", "code"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limit policy.",
		}, []string{"policy"}),
	}
	reg.MustRegister(m.requests, m.duration, m.errors, m.rateLimited)
	return m
}

// RecordRequest counts a served request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = routeLabel(route)
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError counts an error response.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(routeLabel(route), method, code).Inc()
}

// RecordRateLimited counts a rate limit rejection.
func (m *Metrics) RecordRateLimited(policy string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(policy).Inc()
}

// routeLabel keeps label cardinality bounded: callers pass the registered
// route pattern, and anything unmatched collapses to one value.
func routeLabel(route string) string {
	if route == "" || route == "/" {
		return "/other"
	}
	return route
}

// MetricsHandler serves the collectors of g in the Prometheus text format.
func MetricsHandler(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
