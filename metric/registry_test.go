package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CERT-Polska/n6-sub011/errors"
)

func newTestCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      "test counter",
	})
}

func TestNewMetricsRegistryHasCoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())
	assert.NotNil(t, registry.PrometheusRegistry())

	// Core metrics are usable straight away.
	registry.Metrics.RecordMessageReceived("collector.abuse-ch.feodotracker", "raw")
	registry.Metrics.RecordError("collector.abuse-ch.feodotracker", "transient")
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()
	err := registry.RegisterCounter("collector", "runs_total", newTestCounter("runs_total"))
	assert.NoError(t, err)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, registry.RegisterCounter("parser", "units", newTestCounter("units_a")))

	err := registry.RegisterCounter("parser", "units", newTestCounter("units_b"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterSameNameDifferentComponents(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, registry.RegisterCounter("parser", "rows",
		newTestCounter("parser_rows")))
	assert.NoError(t, registry.RegisterCounter("filter", "rows",
		newTestCounter("filter_rows")))
}

func TestRegisterPrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, registry.RegisterCounter("a", "first", newTestCounter("shared_total")))

	// Same prometheus name under a different registry key still collides
	// inside the prometheus registry itself.
	err := registry.RegisterCounter("b", "second", newTestCounter("shared_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, registry.RegisterCounter("filter", "events", newTestCounter("events_total")))

	assert.True(t, registry.Unregister("filter", "events"))
	assert.False(t, registry.Unregister("filter", "events"))

	// Registration works again after unregistering.
	assert.NoError(t, registry.RegisterCounter("filter", "events", newTestCounter("events_total")))
}

func TestRegisterOrReuse(t *testing.T) {
	registry := NewMetricsRegistry()

	first := newTestCounter("reused_total")
	got, err := registry.RegisterOrReuse("collector", "reused", first)
	require.NoError(t, err)
	assert.Same(t, first, got)

	// A second registration under the same key hands back the first
	// collector instead of failing.
	second := newTestCounter("reused_total")
	got, err = registry.RegisterOrReuse("collector", "reused", second)
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestRegisterVecTypes(t *testing.T) {
	registry := NewMetricsRegistry()

	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "vec_counter_total",
		Help:      "test",
	}, []string{"source"})
	assert.NoError(t, registry.RegisterCounterVec("collector", "vec_counter", counterVec))

	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "vec_gauge",
		Help:      "test",
	}, []string{"source"})
	assert.NoError(t, registry.RegisterGaugeVec("collector", "vec_gauge", gaugeVec))

	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "vec_histogram",
		Help:      "test",
	}, []string{"source"})
	assert.NoError(t, registry.RegisterHistogramVec("collector", "vec_histogram", histogramVec))
}
