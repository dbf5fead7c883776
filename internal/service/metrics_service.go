package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the auth flows.
// All methods are nil-safe so wiring metrics stays optional in tests.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	sessionsIssued    prometheus.Counter
	sessionsRotated   prometheus.Counter
	sessionsRevoked   prometheus.Counter
	refreshRejections *prometheus.CounterVec
}

// NewMetricsService registers the service's Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	sessionsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_issued_total",
		Help: "Sessions created by login, registration, and rotation",
	})

	sessionsRotated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_rotated_total",
		Help: "Successful refresh rotations",
	})

	sessionsRevoked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_revoked_total",
		Help: "Sessions revoked by logout",
	})

	refreshRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_rejections_total",
		Help: "Refresh attempts rejected, by internal reason",
	}, []string{"reason"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sessionsIssued, sessionsRotated, sessionsRevoked, refreshRejections, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		sessionsIssued:    sessionsIssued,
		sessionsRotated:   sessionsRotated,
		sessionsRevoked:   sessionsRevoked,
		refreshRejections: refreshRejections,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// IncSessionIssued counts a created session.
func (m *MetricsService) IncSessionIssued() {
	if m == nil {
		return
	}
	m.sessionsIssued.Inc()
}

// IncSessionRotated counts a successful rotation.
func (m *MetricsService) IncSessionRotated() {
	if m == nil {
		return
	}
	m.sessionsRotated.Inc()
}

// IncSessionRevoked counts a logout revocation.
func (m *MetricsService) IncSessionRevoked() {
	if m == nil {
		return
	}
	m.sessionsRevoked.Inc()
}

// IncRefreshRejection counts a rejected refresh by internal reason. Reasons
// never reach clients; the label cardinality is the fixed reason set.
func (m *MetricsService) IncRefreshRejection(reason string) {
	if m == nil {
		return
	}
	m.refreshRejections.WithLabelValues(reason).Inc()
}
