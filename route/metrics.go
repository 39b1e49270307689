package route

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CERT-Polska/n6-sub011/metric"
)

// filterMetrics holds Prometheus metrics for event routing.
type filterMetrics struct {
	eventsTotal   *prometheus.CounterVec // by status (routed/unrouted/error)
	orgsMatched   prometheus.Histogram   // match count distribution
	routeDuration prometheus.Histogram
	snapshotOrgs  prometheus.Gauge
}

// newFilterMetrics creates and registers filter metrics. A nil registry
// disables metrics.
func newFilterMetrics(registry *metric.MetricsRegistry) (*filterMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &filterMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "filter",
			Name:      "events_total",
			Help:      "Total number of events routed",
		}, []string{"status"}),

		orgsMatched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "filter",
			Name:      "orgs_matched",
			Help:      "Organizations matched per event",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		routeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "filter",
			Name:      "route_duration_seconds",
			Help:      "Per-event routing duration in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),

		snapshotOrgs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "filter",
			Name:      "snapshot_orgs",
			Help:      "Organizations in the current criteria snapshot",
		}),
	}

	if err := registry.RegisterCounterVec("filter", "events_total", m.eventsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("filter", "orgs_matched", m.orgsMatched); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("filter", "route_duration", m.routeDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("filter", "snapshot_orgs", m.snapshotOrgs); err != nil {
		return nil, err
	}

	return m, nil
}

// recordEvent records one routed event.
func (m *filterMetrics) recordEvent(status string, orgs, snapshotSize int, duration time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(status).Inc()
	m.orgsMatched.Observe(float64(orgs))
	m.routeDuration.Observe(duration.Seconds())
	m.snapshotOrgs.Set(float64(snapshotSize))
}
