package normalize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CERT-Polska/n6-sub011/metric"
)

// parserMetrics holds Prometheus metrics for raw-unit normalization.
type parserMetrics struct {
	unitsTotal    *prometheus.CounterVec // by source and status (parsed/error)
	eventsTotal   *prometheus.CounterVec // by source
	rowsSkipped   *prometheus.CounterVec // by source
	parseDuration *prometheus.HistogramVec
}

// newParserMetrics creates and registers parser metrics. A nil registry
// disables metrics.
func newParserMetrics(registry *metric.MetricsRegistry) (*parserMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &parserMetrics{
		unitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "parser",
			Name:      "raw_units_total",
			Help:      "Total number of raw units consumed",
		}, []string{"source", "status"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "parser",
			Name:      "events_total",
			Help:      "Total number of canonical events emitted",
		}, []string{"source"}),

		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "parser",
			Name:      "rows_skipped_total",
			Help:      "Total number of malformed rows skipped",
		}, []string{"source"}),

		parseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "parser",
			Name:      "unit_duration_seconds",
			Help:      "Raw unit normalization duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"source"}),
	}

	if err := registry.RegisterCounterVec("parser", "raw_units_total", m.unitsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("parser", "events_total", m.eventsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("parser", "rows_skipped_total", m.rowsSkipped); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("parser", "unit_duration", m.parseDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// recordUnit records one consumed raw unit.
func (m *parserMetrics) recordUnit(source, status string, events, skipped int, duration time.Duration) {
	if m == nil {
		return
	}
	m.unitsTotal.WithLabelValues(source, status).Inc()
	if events > 0 {
		m.eventsTotal.WithLabelValues(source).Add(float64(events))
	}
	if skipped > 0 {
		m.rowsSkipped.WithLabelValues(source).Add(float64(skipped))
	}
	m.parseDuration.WithLabelValues(source).Observe(duration.Seconds())
}
