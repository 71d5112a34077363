package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth event names recorded by AuthService.
const (
	EventRegister = "register"
	EventLogin    = "login"
	EventRefresh  = "refresh"
	EventLogout   = "logout"
	EventReuse    = "refresh_reuse"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	authEvents       *prometheus.CounterVec
	sessionOpLatency *prometheus.HistogramVec
	passwordHashing  prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
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

	authEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_events_total",
		Help: "Authentication lifecycle events by outcome",
	}, []string{"event", "outcome"})

	sessionOpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_cache_operation_seconds",
		Help:    "Latency of session cache operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	passwordHashing := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "password_hash_seconds",
		Help:    "Time spent deriving or verifying password digests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, authEvents, sessionOpLatency, passwordHashing, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		authEvents:       authEvents,
		sessionOpLatency: sessionOpLatency,
		passwordHashing:  passwordHashing,
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordAuthEvent counts a lifecycle event. outcome is "success" or an error code.
func (m *MetricsService) RecordAuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(event, outcome).Inc()
}

// ObserveSessionOperation records session cache latency.
func (m *MetricsService) ObserveSessionOperation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sessionOpLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObservePasswordHash records time spent in the password hasher.
func (m *MetricsService) ObservePasswordHash(duration time.Duration) {
	if m == nil {
		return
	}
	m.passwordHashing.Observe(duration.Seconds())
}
