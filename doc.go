// Package exporter follows the Assemblyline status feed and republishes the
// latest heartbeat values as Prometheus gauges.
//
// Assemblyline components (alerter, dispatcher, expiry, ingester, scaler,
// archive, retrohunt and the analysis services) publish periodic status
// messages. The exporter subscribes to those messages and keeps one gauge
// per numeric field, labelled with the component identity where the message
// carries one. Scrapes return the most recent value seen; nothing is summed
// or windowed.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            Transport                │  socketio: /socket.io status
//	│   (socketio or natsclient feed)     │  namespace, natsclient: subjects
//	└─────────────────────────────────────┘
//	           ↓ raw JSON per category
//	┌─────────────────────────────────────┐
//	│             Router                  │  Schema validation, decoding,
//	│            (status)                 │  compat corrections
//	└─────────────────────────────────────┘
//	           ↓ Set(labels, value)
//	┌─────────────────────────────────────┐
//	│         Gauge registry              │  One GaugeVec per field,
//	│            (metric)                 │  /metrics and /health
//	└─────────────────────────────────────┘
//
// The metrics server starts before the feed connects, so early scrapes
// succeed with empty gauges. A feed that cannot authenticate or loses its
// connection for good ends the process with a non-zero exit code.
//
// # Packages
//
//   - status: Message categories, schemas, decoding and the gauge router
//   - metric: Gauge catalogue, registry and the exposition server
//   - socketio: Engine.IO/Socket.IO client for the Assemblyline API
//   - natsclient: NATS transport carrying the same status bodies
//   - health: Upstream connection and message freshness tracking
//   - config: Layered configuration from files, .env and environment
//   - errors: Error classification (transient, invalid, fatal)
//   - pkg/retry: Backoff policies for login and reconnects
//   - pkg/tlsutil: Client and server TLS configuration
//
// # Running
//
//	ASSEMBLYLINE_HOST=al.example.com \
//	ASSEMBLYLINE_USERNAME=admin \
//	ASSEMBLYLINE_APIKEY=... \
//	assemblyline-exporter -log-level debug
//
// Gauges are then available at http://localhost:8000/metrics.
package exporter
