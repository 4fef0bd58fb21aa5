package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the workflow and
// the operational HTTP surface.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	incidentTransitions *prometheus.CounterVec
	tokenEvents         *prometheus.CounterVec
	mailDeliveries      *prometheus.CounterVec
	tokensReaped        prometheus.Counter
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

	incidentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_transitions_total",
		Help: "Incident lifecycle operations applied",
	}, []string{"operation"})

	tokenEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "password_reset_tokens_total",
		Help: "Password reset token outcomes",
	}, []string{"outcome"})

	mailDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_deliveries_total",
		Help: "Outbound mail delivery attempts",
	}, []string{"result"})

	tokensReaped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "password_reset_tokens_reaped_total",
		Help: "Expired password reset tokens removed by the reaper",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, incidentTransitions, tokenEvents, mailDeliveries, tokensReaped, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		incidentTransitions: incidentTransitions,
		tokenEvents:         tokenEvents,
		mailDeliveries:      mailDeliveries,
		tokensReaped:        tokensReaped,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordIncidentTransition counts a lifecycle operation.
func (m *MetricsService) RecordIncidentTransition(operation string) {
	if m == nil {
		return
	}
	m.incidentTransitions.WithLabelValues(operation).Inc()
}

// RecordTokenEvent counts a token outcome such as issued or consumed.
func (m *MetricsService) RecordTokenEvent(outcome string) {
	if m == nil {
		return
	}
	m.tokenEvents.WithLabelValues(outcome).Inc()
}

// RecordMailDelivery counts a delivery attempt by result.
func (m *MetricsService) RecordMailDelivery(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.mailDeliveries.WithLabelValues(result).Inc()
}

// RecordTokensReaped adds n removed tokens.
func (m *MetricsService) RecordTokensReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensReaped.Add(float64(n))
}
