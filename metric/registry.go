package metric

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// Gauge is a named, labeled gauge. Every distinct label-value combination
// holds its own value; combinations are created on first write and never
// removed.
type Gauge struct {
	name       string
	labelNames []string
	vec        *prometheus.GaugeVec
	now        func() time.Time
}

// Name returns the metric name
func (g *Gauge) Name() string {
	return g.name
}

// LabelNames returns the declared label names in order
func (g *Gauge) LabelNames() []string {
	return append([]string(nil), g.labelNames...)
}

// Vec exposes the underlying vector for collection in tests and custom collectors
func (g *Gauge) Vec() *prometheus.GaugeVec {
	return g.vec
}

// Set stores value under the given label values. Passing a number of label
// values that differs from the declared label names panics.
func (g *Gauge) Set(value float64, labelValues ...string) {
	g.vec.WithLabelValues(labelValues...).Set(value)
}

// Touch stores the current wall-clock time, in Unix seconds, under the given
// label values.
func (g *Gauge) Touch(labelValues ...string) {
	g.Set(float64(g.now().UnixNano())/1e9, labelValues...)
}

// RegistryOption configures a MetricsRegistry
type RegistryOption func(*MetricsRegistry)

// WithClock replaces the wall clock used by Gauge.Touch
func WithClock(now func() time.Time) RegistryOption {
	return func(r *MetricsRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithoutRuntimeCollectors skips the Go runtime and process collectors
func WithoutRuntimeCollectors() RegistryOption {
	return func(r *MetricsRegistry) {
		r.runtime = false
	}
}

// MetricsRegistry owns every metric the exporter serves. It is constructed
// once at startup and handed to both the router and the HTTP server.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	gauges             map[string]*Gauge
	now                func() time.Time
	runtime            bool
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a registry with the exporter's operational metrics
func NewMetricsRegistry(opts ...RegistryOption) *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		gauges:             make(map[string]*Gauge),
		now:                time.Now,
		runtime:            true,
	}
	for _, opt := range opts {
		opt(registry)
	}

	registry.Metrics = NewMetrics()
	registry.prometheusRegistry.MustRegister(registry.Metrics.collectors()...)

	if registry.runtime {
		registry.prometheusRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the exporter's operational metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// DefineGauge creates and registers a gauge. Defining the same name twice is
// a programming error and returns a fatal-class error.
func (r *MetricsRegistry) DefineGauge(name, help string, labelNames ...string) (*Gauge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.gauges[name]; exists {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrDuplicateMetric, name),
			"MetricsRegistry", "DefineGauge", "duplicate gauge definition")
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
	if err := r.prometheusRegistry.Register(vec); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %s", errors.ErrDuplicateMetric, name),
				"MetricsRegistry", "DefineGauge", "prometheus conflict")
		}
		return nil, errors.WrapFatal(err, "MetricsRegistry", "DefineGauge",
			fmt.Sprintf("register gauge %s", name))
	}

	// Unlabeled gauges are exposed at zero from the start.
	if len(labelNames) == 0 {
		vec.WithLabelValues()
	}

	gauge := &Gauge{
		name:       name,
		labelNames: append([]string(nil), labelNames...),
		vec:        vec,
		now:        r.now,
	}
	r.gauges[name] = gauge
	return gauge, nil
}

// MustDefineGauge is DefineGauge for package-level setup; it panics on error.
func (r *MetricsRegistry) MustDefineGauge(name, help string, labelNames ...string) *Gauge {
	gauge, err := r.DefineGauge(name, help, labelNames...)
	if err != nil {
		panic(err)
	}
	return gauge
}

// Gauge returns a previously defined gauge
func (r *MetricsRegistry) Gauge(name string) (*Gauge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gauge, ok := r.gauges[name]
	return gauge, ok
}

// GaugeNames returns the names of every defined gauge
func (r *MetricsRegistry) GaugeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gauges))
	for name := range r.gauges {
		names = append(names, name)
	}
	return names
}
