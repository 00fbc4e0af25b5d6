// Package metrics exposes Prometheus collectors for the capture service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	captureAttemptsTotal   *prometheus.CounterVec
	captureAttemptDuration prometheus.Histogram
	capturesTotal          *prometheus.CounterVec
	batchesTotal           *prometheus.CounterVec
	activeCaptures         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		captureAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tallshot_capture_attempts_total",
				Help: "Total capture attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		captureAttemptDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tallshot_capture_attempt_duration_seconds",
				Help:    "Histogram of single capture attempt durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tallshot_captures_total",
				Help: "Total capture operations after retries, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tallshot_batches_total",
				Help: "Total batches processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeCaptures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tallshot_active_captures",
				Help: "Number of capture operations currently in flight.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt records one capture attempt.
func ObserveAttempt(success bool, duration time.Duration) {
	Init()
	captureAttemptsTotal.WithLabelValues(outcome(success)).Inc()
	captureAttemptDuration.Observe(duration.Seconds())
}

// ObserveCapture records one finished capture operation (retries spent).
func ObserveCapture(success bool) {
	Init()
	capturesTotal.WithLabelValues(outcome(success)).Inc()
}

// ObserveBatch increments the batch counter for the given status.
func ObserveBatch(status string) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
}

// IncActiveCaptures increments the in-flight gauge.
func IncActiveCaptures() {
	Init()
	activeCaptures.Inc()
}

// DecActiveCaptures decrements the in-flight gauge.
func DecActiveCaptures() {
	Init()
	activeCaptures.Dec()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
