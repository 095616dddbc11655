package metric

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

func gather(t *testing.T, registry *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
	assert.Empty(t, registry.GaugeNames())
}

func TestDefineGauge_Labeled(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())

	gauge, err := registry.DefineGauge("test_component_instances", "Number of instances", "component")
	require.NoError(t, err)
	assert.Equal(t, "test_component_instances", gauge.Name())
	assert.Equal(t, []string{"component"}, gauge.LabelNames())

	// Nothing is exposed until a combination is written
	assert.Nil(t, gather(t, registry, "test_component_instances"))

	gauge.Set(3, "ingester")
	gauge.Set(1, "alerter")

	assert.Equal(t, 3.0, testutil.ToFloat64(gauge.Vec().WithLabelValues("ingester")))
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge.Vec().WithLabelValues("alerter")))
	assert.Equal(t, 2, testutil.CollectAndCount(gauge.Vec()))
}

func TestDefineGauge_UnlabeledStartsAtZero(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())

	gauge, err := registry.DefineGauge("test_bytes", "Bytes")
	require.NoError(t, err)

	mf := gather(t, registry, "test_bytes")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, 0.0, mf.GetMetric()[0].GetGauge().GetValue())

	gauge.Set(716394989)
	assert.Equal(t, 716394989.0, testutil.ToFloat64(gauge.Vec()))
}

func TestGauge_SetOverwrites(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	gauge := registry.MustDefineGauge("test_queue", "Queue", "service")

	gauge.Set(833, "apkaye")
	gauge.Set(835, "apkaye")

	assert.Equal(t, 835.0, testutil.ToFloat64(gauge.Vec().WithLabelValues("apkaye")))
	assert.Equal(t, 1, testutil.CollectAndCount(gauge.Vec()))
}

func TestDefineGauge_Duplicate(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())

	_, err := registry.DefineGauge("test_dup", "First")
	require.NoError(t, err)

	_, err = registry.DefineGauge("test_dup", "Second")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrDuplicateMetric)

	assert.Panics(t, func() {
		registry.MustDefineGauge("test_dup", "Third")
	})
}

func TestDefineGauge_ConflictsWithCoreMetric(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())

	_, err := registry.DefineGauge("assemblyline_exporter_upstream_connected",
		"Upstream feed connection status (0=disconnected, 1=connected)", "feed")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestGauge_ArityMismatchPanics(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	gauge := registry.MustDefineGauge("test_failures", "Failures", "service", "type")

	assert.Panics(t, func() { gauge.Set(1, "apkaye") })
	assert.Panics(t, func() { gauge.Touch() })
}

func TestGauge_TouchUsesClock(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	registry := NewMetricsRegistry(WithoutRuntimeCollectors(), WithClock(func() time.Time { return now }))
	heartbeat := registry.MustDefineGauge("test_last_heartbeat", "Last heartbeat", "component")

	heartbeat.Touch("dispatcher")

	value := testutil.ToFloat64(heartbeat.Vec().WithLabelValues("dispatcher"))
	assert.InDelta(t, float64(now.Unix())+0.5, value, 1e-3)
}

func TestGauge_TouchStrictlyIncreases(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	heartbeat := registry.MustDefineGauge("test_last_heartbeat", "Last heartbeat", "component")

	heartbeat.Touch("scaler")
	first := testutil.ToFloat64(heartbeat.Vec().WithLabelValues("scaler"))

	time.Sleep(20 * time.Millisecond)

	heartbeat.Touch("scaler")
	second := testutil.ToFloat64(heartbeat.Vec().WithLabelValues("scaler"))

	assert.Greater(t, second, first)
	assert.InDelta(t, float64(time.Now().Unix()), second, 5)
}

func TestRegistry_LookupGauge(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	defined := registry.MustDefineGauge("test_lookup", "Lookup")

	found, ok := registry.Gauge("test_lookup")
	require.True(t, ok)
	assert.Same(t, defined, found)

	_, ok = registry.Gauge("missing")
	assert.False(t, ok)
}

func TestGauge_ConcurrentWritesAndGathers(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	gauge := registry.MustDefineGauge("test_concurrent", "Concurrent", "name")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				gauge.Set(float64(j), "medium")
				gauge.Touch("critical")
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := registry.PrometheusRegistry().Gather()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 199.0, testutil.ToFloat64(gauge.Vec().WithLabelValues("medium")))
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry(WithoutRuntimeCollectors())
	core := registry.CoreMetrics()

	core.RecordMessageReceived("ingester")
	core.RecordMessageReceived("ingester")
	core.RecordMessageDropped("service", ReasonInvalid)
	core.RecordProcessingDuration("ingester", 150*time.Microsecond)
	core.RecordUpstreamStatus("socketio", true)
	core.RecordUpstreamReconnect("socketio")

	assert.Equal(t, 2.0, testutil.ToFloat64(core.MessagesReceived.WithLabelValues("ingester")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.MessagesDropped.WithLabelValues("service", ReasonInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.UpstreamConnected.WithLabelValues("socketio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.UpstreamReconnects.WithLabelValues("socketio")))

	core.RecordUpstreamStatus("socketio", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(core.UpstreamConnected.WithLabelValues("socketio")))

	mf := gather(t, registry, "assemblyline_exporter_processing_duration_seconds")
	require.NotNil(t, mf)
	assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
}
