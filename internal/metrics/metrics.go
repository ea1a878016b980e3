// Package metrics exposes collection counters on a private Prometheus
// registry:
//
//	candlesync_instrument_outcomes_total{class,outcome}
//	candlesync_candles_inserted_total{class}
//	candlesync_rate_skipped_total{currency}
//	candlesync_adapter_attempts_total{adapter,result}
//	candlesync_backoff_seconds_total{adapter}
//	candlesync_rate_cache_size
//	candlesync_last_run_duration_seconds
//	candlesync_runs_total{status}
//	go_* and process_* system metrics
//
// Every method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "candlesync"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	reg         *prometheus.Registry
	outcomes    *prometheus.CounterVec
	inserted    *prometheus.CounterVec
	rateSkipped *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	backoff     *prometheus.CounterVec
	rateCache   prometheus.Gauge
	runDuration prometheus.Gauge
	runs        *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instrument_outcomes_total",
			Help:      "Instruments processed, by class and outcome.",
		}, []string{"class", "outcome"}),
		inserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_inserted_total",
			Help:      "Candles newly written to the store.",
		}, []string{"class"}),
		rateSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_skipped_total",
			Help:      "Observations dropped because no USD rate existed for the quote currency.",
		}, []string{"currency"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_attempts_total",
			Help:      "Adapter fetch attempts, by result kind.",
		}, []string{"adapter", "result"}),
		backoff: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_seconds_total",
			Help:      "Time spent sleeping before adapter retries.",
		}, []string{"adapter"}),
		rateCache: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_cache_size",
			Help:      "Forex crosses held by the USD rate cache.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the most recent collection run.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collection runs, by final status.",
		}, []string{"status"}),
	}
	m.reg.MustRegister(
		m.outcomes, m.inserted, m.rateSkipped, m.attempts, m.backoff,
		m.rateCache, m.runDuration, m.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveOutcome counts one processed instrument.
func (m *Metrics) ObserveOutcome(class, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(class, outcome).Inc()
}

// AddInserted counts newly stored candles.
func (m *Metrics) AddInserted(class string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.inserted.WithLabelValues(class).Add(float64(n))
}

// AddRateSkipped counts observations dropped for want of a USD rate.
func (m *Metrics) AddRateSkipped(currency string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rateSkipped.WithLabelValues(currency).Add(float64(n))
}

// ObserveAttempt counts one adapter call. result is "ok" or a failure kind.
func (m *Metrics) ObserveAttempt(adapter, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(adapter, result).Inc()
}

// ObserveBackoff records a retry sleep.
func (m *Metrics) ObserveBackoff(adapter string, d time.Duration) {
	if m == nil {
		return
	}
	m.backoff.WithLabelValues(adapter).Add(d.Seconds())
}

// SetRateCacheSize records the number of cached crosses.
func (m *Metrics) SetRateCacheSize(n int) {
	if m == nil {
		return
	}
	m.rateCache.Set(float64(n))
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(d time.Duration, status string) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
	m.runs.WithLabelValues(status).Inc()
}
