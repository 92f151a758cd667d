// Package metrics exposes campaign progress as Prometheus metrics.
//
// All methods are safe on a nil *Metrics, which records nothing; a
// campaign run without --metrics-addr passes nil.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/scriptfuzz/internal/ir"
)

const namespace = "scriptfuzz"

// Metrics holds the campaign's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	generated   *prometheus.CounterVec
	genFailures prometheus.Counter
	genSeconds  prometheus.Histogram
	calls       prometheus.Histogram
	fallbacks   prometheus.Counter
	dropped     prometheus.Counter
	executions  *prometheus.CounterVec
	execSeconds *prometheus.HistogramVec
	peakRSS     prometheus.Histogram
	inflight    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		generated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "test_cases_total",
			Help:      "Test cases generated, by generation mode.",
		}, []string{"mode"}),
		genFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "failures_total",
			Help:      "Sequences that could not be completed.",
		}),
		genSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "duration_seconds",
			Help:      "Time to plan and assemble one test case.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		calls: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "calls",
			Help:      "Calls per generated sequence.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "fallbacks_total",
			Help:      "Calls degraded from symbolic resolution to grammar sampling.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generate",
			Name:      "dropped_constraints_total",
			Help:      "Strong edges left unsatisfied because an endpoint never appeared.",
		}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "executions_total",
			Help:      "Classified executions, by outcome.",
		}, []string{"outcome"}),
		execSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "duration_seconds",
			Help:      "Wall time from launch to classification.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240},
		}, []string{"outcome"}),
		peakRSS: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "peak_rss_bytes",
			Help:      "Peak resident memory of the target.",
			Buckets:   prometheus.ExponentialBuckets(16<<20, 2, 8),
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "running",
			Help:      "Targets currently running.",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// TestCaseGenerated records one planned and assembled test case.
func (m *Metrics) TestCaseGenerated(tc *ir.TestCase, took time.Duration) {
	if m == nil {
		return
	}
	m.generated.WithLabelValues(string(tc.Mode)).Inc()
	m.genSeconds.Observe(took.Seconds())
	m.calls.Observe(float64(len(tc.Calls)))
	m.fallbacks.Add(float64(tc.Fallbacks))
	m.dropped.Add(float64(tc.Dropped))
}

func (m *Metrics) GenerationFailed() {
	if m == nil {
		return
	}
	m.genFailures.Inc()
}

// ExecutionStarted and ExecutionFinished bracket one monitored run.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) ExecutionFinished(res *ir.ExecutionResult) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	if res == nil {
		return
	}
	outcome := string(res.Outcome)
	m.executions.WithLabelValues(outcome).Inc()
	m.execSeconds.WithLabelValues(outcome).Observe(res.Duration.Seconds())
	if res.Usage.PeakRSS > 0 {
		m.peakRSS.Observe(float64(res.Usage.PeakRSS))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, m *Metrics, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("metrics listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
