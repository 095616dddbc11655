// Package socketio is the default upstream feed: it follows the Assemblyline
// status namespace over Socket.IO.
//
// A session is established in three steps:
//
//  1. POST /api/v4/auth/login/ with the username and API key. The session
//     and XSRF-TOKEN cookies land in the client's cookie jar.
//  2. Upgrade /socket.io/?EIO=4&transport=websocket, sending the cookies
//     and the XSRF token as X-XSRF-TOKEN.
//  3. Join the /status namespace and emit "monitor" so the server starts
//     streaming heartbeats.
//
// Only the subset of Engine.IO v4 and Socket.IO v5 that a WebSocket-only
// client needs is implemented: text frames, ping/pong, namespace connect and
// disconnect, and events. Binary packets and HTTP long-polling are not.
//
// Heartbeat events are mapped to status categories by name
// (IngestHeartbeat to ingester, ScalerStatusHeartbeat to scaler-status, and
// so on) and delivered on the read goroutine. Unknown events are ignored.
//
// The first connection is retried briefly and its failure is returned from
// Listen, so the exporter can exit at startup. Once a session has been
// established, drops are retried indefinitely with exponential backoff and
// each successful reconnect is counted in
// assemblyline_exporter_upstream_reconnects_total.
package socketio
