// Package status maps Assemblyline status heartbeats onto Prometheus gauges.
//
// Assemblyline components publish periodic heartbeats on a status channel,
// one message kind per Category. The Router holds one handler per category.
// Each handler validates the body against a JSON schema listing exactly the
// fields it reads, then copies those fields into labeled gauges:
//
//	alerter, archive, dispatcher, expiry, scaler
//	    last_heartbeat{component}, component_instances{component}
//	ingester
//	    the above, the five byte/file/submission totals and
//	    ingester_queues{name} for every queue in the message
//	scaler-status
//	    last_heartbeat{component="scaler"} and eight per-service scaler gauges
//	service
//	    component_instances, busy, idle, queue, failures{type}, processed
//
// Service names are lower-cased before they become label values. Every
// write is last-write-wins; nothing is accumulated across messages.
//
// Two historical quirks are preserved unless Compat says otherwise: service
// messages report instances under component="alerter", and the
// bytes_completed/bytes_ingested values are stored under each other's names.
//
// Transports implement Feed and receive the Router's Callbacks. A rejected
// message is logged with its category and offending field, counted in the
// exporter's dropped-messages metric and otherwise ignored.
package status
