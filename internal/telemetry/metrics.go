// Package telemetry provides Prometheus collectors for the cache front.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/octopus-digest/octopus-cache/internal/cache"
)

var phases = []string{"idle", "installing", "installed", "active", "redundant"}

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	CacheWriteFailures *prometheus.CounterVec
	PrecacheFailures   prometheus.Counter
	GenerationsPurged  prometheus.Counter
	LifecyclePhase     *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "requests_total",
			Help:      "Total intercepted requests by strategy and response source.",
		}, []string{"strategy", "source"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "octopus",
			Name:                            "request_duration_seconds",
			Help:                            "Intercepted request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"strategy"}),

		CacheWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "cache_write_failures_total",
			Help:      "Total write-behind cache puts that failed.",
		}, []string{"reason"}),

		PrecacheFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "precache_failures_total",
			Help:      "Total failed generation installs.",
		}),

		GenerationsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "octopus",
			Name:      "generations_purged_total",
			Help:      "Total stale cache generations deleted on activation.",
		}),

		LifecyclePhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "octopus",
			Name:      "lifecycle_phase",
			Help:      "1 for the current lifecycle phase, 0 otherwise.",
		}, []string{"phase"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheWriteFailures,
		m.PrecacheFailures,
		m.GenerationsPurged,
		m.LifecyclePhase,
	)

	m.PhaseChanged("idle")
	return m
}

// ObserveRequest records one intercepted request.
func (m *Metrics) ObserveRequest(strategy, source string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(strategy, source).Inc()
	m.RequestDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// WriteFailed counts a swallowed write-behind failure.
func (m *Metrics) WriteFailed(_ cache.Key, _ cache.Generation, err error) {
	m.CacheWriteFailures.WithLabelValues(WriteFailureReason(err)).Inc()
}

// PhaseChanged sets the phase gauge.
func (m *Metrics) PhaseChanged(phase string) {
	for _, p := range phases {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.LifecyclePhase.WithLabelValues(p).Set(value)
	}
}

// PrecacheFailed counts a failed install.
func (m *Metrics) PrecacheFailed(string) {
	m.PrecacheFailures.Inc()
}

// GenerationPurged counts a deleted generation.
func (m *Metrics) GenerationPurged(string) {
	m.GenerationsPurged.Inc()
}

// WriteFailureReason maps a cache error to a low-cardinality label.
func WriteFailureReason(err error) string {
	switch {
	case errors.Is(err, cache.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, cache.ErrGenerationMissing):
		return "generation_missing"
	case errors.Is(err, cache.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
