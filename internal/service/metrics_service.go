package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsService owns the Prometheus registry and the workflow
// counters the coordinator and fee path increment. A nil
// *MetricsService is a valid no-op recorder, so wiring with metrics
// disabled needs no guards at the call sites.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registrationsFinalized prometheus.Counter
	registrationsFailed    prometheus.Counter
	seatExhaustions        prometheus.Counter
	exportsGenerated       prometheus.Counter
}

// NewMetricsService builds a registry pre-populated with process and
// Go runtime collectors plus the application series.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &MetricsService{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		registrationsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "registrations_finalized_total",
			Help: "Semester registrations completed by the finalize step.",
		}),
		registrationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "registrations_failed_total",
			Help: "Semester registrations failed by advisor rejection.",
		}),
		seatExhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_exhaustions_total",
			Help: "Finalized selections that found an empty seat pool.",
		}),
		exportsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "slip_exports_generated_total",
			Help: "Registration slip exports rendered successfully.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTP records one served request.
func (m *MetricsService) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

// RegistrationFinalized increments the finalize counter.
func (m *MetricsService) RegistrationFinalized() {
	if m == nil {
		return
	}
	m.registrationsFinalized.Inc()
}

// RegistrationFailed increments the rejection counter.
func (m *MetricsService) RegistrationFailed() {
	if m == nil {
		return
	}
	m.registrationsFailed.Inc()
}

// SeatExhausted increments the empty-seat-pool counter.
func (m *MetricsService) SeatExhausted() {
	if m == nil {
		return
	}
	m.seatExhaustions.Inc()
}

// ExportGenerated increments the slip export counter.
func (m *MetricsService) ExportGenerated() {
	if m == nil {
		return
	}
	m.exportsGenerated.Inc()
}
