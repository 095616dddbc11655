// Package health tracks whether the exporter is connected upstream and which
// status categories are still arriving.
//
// The Tracker is fed by the transports (SetConnected, SetDisconnected) and by
// the router (ObserveMessage, ObserveError). Its Status is served as JSON on
// the exposition server's /health endpoint:
//
//	{
//	  "component": "assemblyline-exporter",
//	  "healthy": true,
//	  "status": "healthy",
//	  "sub_statuses": [
//	    {"component": "upstream/socketio", "status": "healthy", ...},
//	    {"component": "ingester", "status": "healthy", "message": "last message 3s ago", ...}
//	  ],
//	  "traffic": {"messages_processed": 1042, "messages_rejected": 0, ...}
//	}
//
// A disconnected upstream makes the whole status unhealthy. A category that
// has gone quiet for longer than the stale threshold makes it degraded.
// Error text is stripped of URLs, addresses and credentials before it is
// stored.
package health
