package telemetry

import (
	"sync"
	"time"

	"github.com/msavchenko/reqcore/pkg/reqcore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every Prometheus collector reqcore's feature
// subsystems report to, grounded on pkg/metrics/retry.go's
// promauto + CounterVec/HistogramVec shape, extended to cover the other
// four feature subsystems.
//
// Metrics:
//   - reqcore_requests_total / reqcore_request_duration_seconds: executor outcomes
//   - reqcore_retry_attempts_total / _backoff_seconds / _final_attempts: RetryFeature
//   - reqcore_cache_hits_total / _misses_total: CacheFeature
//   - reqcore_idempotency_coalesced_total: IdempotencyFeature
//   - reqcore_concurrency_pool_in_use: ConcurrencyFeature saturation (gauge, set by callers)
//   - reqcore_serial_queue_depth: SerialQueue depth (gauge, set by callers)
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	RetryAttemptsTotal  *prometheus.CounterVec
	RetryBackoffSeconds *prometheus.HistogramVec
	RetryFinalAttempts  *prometheus.HistogramVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	IdempotencyCoalescedTotal *prometheus.CounterVec

	ConcurrencyPoolInUse prometheus.Gauge
	SerialQueueDepth     prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics registers and returns the process-wide Metrics instance. A
// sync.Once guards registration so repeated calls (e.g. across tests)
// never attempt duplicate Prometheus collector registration.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "reqcore",
					Name:      "requests_total",
					Help:      "Total requests executed, by tag, method, and outcome.",
				},
				[]string{"tag", "method", "outcome"},
			),
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "reqcore",
					Name:      "request_duration_seconds",
					Help:      "Request duration in seconds.",
					Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"tag", "method", "outcome"},
			),
			RetryAttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "reqcore",
					Subsystem: "retry",
					Name:      "attempts_total",
					Help:      "Total retry attempts by tag, outcome, and error type.",
				},
				[]string{"tag", "outcome", "error_type"},
			),
			RetryBackoffSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "reqcore",
					Subsystem: "retry",
					Name:      "backoff_seconds",
					Help:      "Backoff delay before a retry attempt.",
					Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
				},
				[]string{"tag"},
			),
			RetryFinalAttempts: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "reqcore",
					Subsystem: "retry",
					Name:      "final_attempts",
					Help:      "Number of attempts until final success or failure.",
					Buckets:   []float64{1, 2, 3, 4, 5, 10, 20},
				},
				[]string{"tag", "outcome"},
			),
			CacheHitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "reqcore",
					Subsystem: "cache",
					Name:      "hits_total",
					Help:      "Total cache hits by tag.",
				},
				[]string{"tag"},
			),
			CacheMissesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "reqcore",
					Subsystem: "cache",
					Name:      "misses_total",
					Help:      "Total cache misses by tag.",
				},
				[]string{"tag"},
			),
			IdempotencyCoalescedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "reqcore",
					Subsystem: "idempotency",
					Name:      "coalesced_total",
					Help:      "Total calls coalesced onto an in-flight call, by key.",
				},
				[]string{"key"},
			),
			ConcurrencyPoolInUse: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "reqcore",
					Subsystem: "concurrency",
					Name:      "pool_in_use",
					Help:      "Tasks currently holding a concurrency semaphore slot.",
				},
			),
			SerialQueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "reqcore",
					Subsystem: "serial_queue",
					Name:      "depth",
					Help:      "Number of keys with a serial task in flight or queued.",
				},
			),
		}
	})
	return metricsInstance
}

// RecordRequest implements reqcore.MetricsRecorder.
func (m *Metrics) RecordRequest(tag string, method reqcore.Method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(tag, string(method), outcome).Inc()
	m.RequestDuration.WithLabelValues(tag, string(method), outcome).Observe(duration.Seconds())
}

// RecordAttempt implements reqcore.RetryMetricsRecorder.
func (m *Metrics) RecordAttempt(operation, outcome, errorType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
}

// RecordBackoff implements reqcore.RetryMetricsRecorder.
func (m *Metrics) RecordBackoff(operation string, delaySeconds float64) {
	if m == nil {
		return
	}
	m.RetryBackoffSeconds.WithLabelValues(operation).Observe(delaySeconds)
}

// RecordFinalAttempts implements reqcore.RetryMetricsRecorder.
func (m *Metrics) RecordFinalAttempts(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.RetryFinalAttempts.WithLabelValues(operation, outcome).Observe(float64(attempts))
}

// RecordCacheHit implements reqcore.CacheMetricsRecorder.
func (m *Metrics) RecordCacheHit(tag string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tag).Inc()
}

// RecordCacheMiss implements reqcore.CacheMetricsRecorder.
func (m *Metrics) RecordCacheMiss(tag string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(tag).Inc()
}

// RecordCoalesced records one idempotency coalescing event for key.
func (m *Metrics) RecordCoalesced(key string) {
	if m == nil {
		return
	}
	m.IdempotencyCoalescedTotal.WithLabelValues(key).Inc()
}

// SetConcurrencyInUse updates the concurrency pool saturation gauge.
func (m *Metrics) SetConcurrencyInUse(n int) {
	if m == nil {
		return
	}
	m.ConcurrencyPoolInUse.Set(float64(n))
}

// SetSerialQueueDepth updates the serial queue depth gauge.
func (m *Metrics) SetSerialQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SerialQueueDepth.Set(float64(n))
}
