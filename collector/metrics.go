package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CERT-Polska/n6-sub011/metric"
)

// collectorMetrics holds Prometheus metrics for collector runs.
type collectorMetrics struct {
	runsTotal   *prometheus.CounterVec // by source and status (published/empty/error)
	rowsFresh   *prometheus.CounterVec // by source
	runDuration *prometheus.HistogramVec
	anomalies   *prometheus.CounterVec // by source and kind
}

// newCollectorMetrics creates and registers collector metrics. A nil
// registry disables metrics entirely.
func newCollectorMetrics(registry *metric.MetricsRegistry) (*collectorMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &collectorMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "collector",
			Name:      "runs_total",
			Help:      "Total number of collection runs",
		}, []string{"source", "status"}),

		rowsFresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "collector",
			Name:      "fresh_rows_total",
			Help:      "Total number of fresh rows published",
		}, []string{"source"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "collector",
			Name:      "run_duration_seconds",
			Help:      "Collection run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"source"}),

		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "collector",
			Name:      "anomalies_total",
			Help:      "Total number of source anomalies detected",
		}, []string{"source", "kind"}),
	}

	// One runner exists per feed; they all share the same vectors.
	registered, err := registry.RegisterOrReuse("collector", "runs_total", m.runsTotal)
	if err != nil {
		return nil, err
	}
	m.runsTotal = registered.(*prometheus.CounterVec)

	registered, err = registry.RegisterOrReuse("collector", "fresh_rows_total", m.rowsFresh)
	if err != nil {
		return nil, err
	}
	m.rowsFresh = registered.(*prometheus.CounterVec)

	registered, err = registry.RegisterOrReuse("collector", "run_duration", m.runDuration)
	if err != nil {
		return nil, err
	}
	m.runDuration = registered.(*prometheus.HistogramVec)

	registered, err = registry.RegisterOrReuse("collector", "anomalies_total", m.anomalies)
	if err != nil {
		return nil, err
	}
	m.anomalies = registered.(*prometheus.CounterVec)

	return m, nil
}

// recordRun records a completed collection run.
func (m *collectorMetrics) recordRun(source, status string, freshRows int, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(source, status).Inc()
	if freshRows > 0 {
		m.rowsFresh.WithLabelValues(source).Add(float64(freshRows))
	}
	m.runDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// recordAnomaly records a source anomaly.
func (m *collectorMetrics) recordAnomaly(source, kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(source, kind).Inc()
}
