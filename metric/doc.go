// Package metric owns the exporter's Prometheus registry and the HTTP server
// that exposes it.
//
// # Registry
//
// A MetricsRegistry is created once at startup and passed explicitly to
// everything that writes or reads metrics; nothing registers against the
// global Prometheus registry.
//
//	registry := metric.NewMetricsRegistry()
//	heartbeat, err := registry.DefineGauge("assemblyline_last_heartbeat", "Last heartbeat", "component")
//	if err != nil {
//	    return err // duplicate names are a programming error
//	}
//	heartbeat.Touch("ingester")          // stores time.Now() as Unix seconds
//	instances.Set(3, "ingester")         // stores an arbitrary value
//
// Gauges only support Set and Touch. A label combination is created on its
// first write and kept for the life of the process. Writes are atomic per
// value, so scrapes never observe a torn number; there is no cross-gauge
// consistency.
//
// The registry also carries the exporter's own operational metrics under the
// assemblyline_exporter namespace (messages received and dropped per
// category, mapping latency, upstream connection state) plus the Go runtime
// and process collectors.
//
// # Server
//
// Server binds synchronously in Start so that a taken port fails startup
// before any upstream connection is attempted, then serves in the
// background:
//
//   - GET /metrics  Prometheus text or OpenMetrics, negotiated by Accept
//   - GET /health   JSON from the health tracker, 503 when unhealthy
//   - GET /         index page
//
// A scrape before any status message has arrived returns a valid exposition
// containing the unlabeled gauges at zero and the operational metrics.
package metric
