package telemetry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/octopus-digest/octopus-cache/internal/cache"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.CacheWriteFailures == nil {
		t.Error("CacheWriteFailures is nil")
	}
	if m.LifecyclePhase == nil {
		t.Error("LifecyclePhase is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestMetricsRecordEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.ObserveRequest("cache-first", "cache", 5*time.Millisecond)
	m.ObserveRequest("cache-first", "cache", 3*time.Millisecond)
	m.ObserveRequest("network-first", "fallback", time.Millisecond)
	if got := metricValue(t, m.RequestsTotal.WithLabelValues("cache-first", "cache")); got != 2 {
		t.Errorf("cache-first/cache = %v, want 2", got)
	}

	key := cache.MustKey("GET", "https://octopus.example/digests/a.json")
	m.WriteFailed(key, "octopus-v1", fmt.Errorf("put: %w", cache.ErrGenerationMissing))
	if got := metricValue(t, m.CacheWriteFailures.WithLabelValues("generation_missing")); got != 1 {
		t.Errorf("generation_missing = %v, want 1", got)
	}

	m.PhaseChanged("active")
	if got := metricValue(t, m.LifecyclePhase.WithLabelValues("active")); got != 1 {
		t.Errorf("active phase gauge = %v, want 1", got)
	}
	if got := metricValue(t, m.LifecyclePhase.WithLabelValues("idle")); got != 0 {
		t.Errorf("idle phase gauge = %v, want 0", got)
	}

	m.PrecacheFailed("octopus-v2")
	m.GenerationPurged("octopus-v1")
	if got := metricValue(t, m.PrecacheFailures); got != 1 {
		t.Errorf("precache failures = %v, want 1", got)
	}
	if got := metricValue(t, m.GenerationsPurged); got != 1 {
		t.Errorf("purged = %v, want 1", got)
	}
}

func TestWriteFailureReason(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err  error
		want string
	}{
		{cache.ErrQuotaExceeded, "quota"},
		{fmt.Errorf("wrap: %w", cache.ErrStoreUnavailable), "unavailable"},
		{errors.New("disk on fire"), "other"},
	}
	for _, tc := range testCases {
		if got := WriteFailureReason(tc.err); got != tc.want {
			t.Errorf("WriteFailureReason(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func metricValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}
