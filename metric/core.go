package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "assemblyline_exporter"

// Drop reasons recorded on MessagesDropped.
const (
	ReasonInvalid = "invalid"
	ReasonPanic   = "panic"
	ReasonUnknown = "unknown_category"
)

// Metrics contains the exporter's own operational metrics. They describe the
// bridge itself and never mix with the republished Assemblyline gauges.
type Metrics struct {
	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	UpstreamConnected  *prometheus.GaugeVec
	UpstreamReconnects *prometheus.CounterVec
}

// NewMetrics creates the exporter's operational metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of status messages received per category",
			},
			[]string{"category"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of status messages rejected per category and reason",
			},
			[]string{"category", "reason"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Time spent validating and mapping one status message",
				Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
			},
			[]string{"category"},
		),

		UpstreamConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "connected",
				Help:      "Upstream feed connection status (0=disconnected, 1=connected)",
			},
			[]string{"feed"},
		),

		UpstreamReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "reconnects_total",
				Help:      "Total number of upstream feed reconnections",
			},
			[]string{"feed"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesReceived,
		c.MessagesDropped,
		c.ProcessingDuration,
		c.UpstreamConnected,
		c.UpstreamReconnects,
	}
}

// RecordMessageReceived increments the received counter for a category
func (c *Metrics) RecordMessageReceived(category string) {
	c.MessagesReceived.WithLabelValues(category).Inc()
}

// RecordMessageDropped increments the dropped counter for a category
func (c *Metrics) RecordMessageDropped(category, reason string) {
	c.MessagesDropped.WithLabelValues(category, reason).Inc()
}

// RecordProcessingDuration records mapping time for a category
func (c *Metrics) RecordProcessingDuration(category string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordUpstreamStatus updates the connection gauge for a feed
func (c *Metrics) RecordUpstreamStatus(feed string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.UpstreamConnected.WithLabelValues(feed).Set(value)
}

// RecordUpstreamReconnect increments the reconnect counter for a feed
func (c *Metrics) RecordUpstreamReconnect(feed string) {
	c.UpstreamReconnects.WithLabelValues(feed).Inc()
}
