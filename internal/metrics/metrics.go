// Package metrics provides Prometheus metrics for the reconciler, audit and report.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application's collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// Reconciler
	RepairRunsTotal       *prometheus.CounterVec
	RepairRunDuration     prometheus.Histogram
	SignalsRepaired       prometheus.Counter
	SignalsSkipped        prometheus.Counter
	SignalsAlreadyCovered prometheus.Counter

	// Audit
	MissingOutcomesDetected prometheus.Counter

	// Report
	ReportHealthy        prometheus.Gauge
	ReportMissingOutcome prometheus.Gauge
	ReportStaleActive    prometheus.Gauge
}

// New creates a Metrics instance. Process and Go runtime collectors are included.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fx_signal_auditor"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RepairRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Total number of outcome repair runs by result",
		}, []string{"result"}),
		RepairRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "run_duration_seconds",
			Help:      "Duration of outcome repair runs",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SignalsRepaired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "signals_repaired_total",
			Help:      "Total number of outcome records synthesized",
		}),
		SignalsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "signals_skipped_total",
			Help:      "Total number of signals skipped as malformed or unwritable",
		}),
		SignalsAlreadyCovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "signals_already_covered_total",
			Help:      "Total number of repairs lost to a concurrent writer",
		}),

		MissingOutcomesDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "missing_outcomes_detected_total",
			Help:      "Total number of expirations observed without an outcome record",
		}),

		ReportHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "healthy",
			Help:      "1 when the last verification report was HEALTHY, 0 otherwise",
		}),
		ReportMissingOutcome: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "expired_without_outcome",
			Help:      "Expired signals without outcome in the last verification window",
		}),
		ReportStaleActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "stale_active_signals",
			Help:      "Active signals with every target hit in the last verification report",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRepairRun records one reconciler run.
func (m *Metrics) ObserveRepairRun(result string, repaired, skipped, alreadyCovered int, d time.Duration) {
	if m == nil {
		return
	}
	m.RepairRunsTotal.WithLabelValues(result).Inc()
	m.RepairRunDuration.Observe(d.Seconds())
	m.SignalsRepaired.Add(float64(repaired))
	m.SignalsSkipped.Add(float64(skipped))
	m.SignalsAlreadyCovered.Add(float64(alreadyCovered))
}

func (m *Metrics) IncMissingOutcome() {
	if m == nil {
		return
	}
	m.MissingOutcomesDetected.Inc()
}

// SetReport records the outcome of a verification report.
func (m *Metrics) SetReport(healthy bool, missing, stale int) {
	if m == nil {
		return
	}
	if healthy {
		m.ReportHealthy.Set(1)
	} else {
		m.ReportHealthy.Set(0)
	}
	m.ReportMissingOutcome.Set(float64(missing))
	m.ReportStaleActive.Set(float64(stale))
}
