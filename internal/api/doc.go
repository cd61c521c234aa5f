// Package api implements the HTTP REST API and WebSocket server for the
// fireplace bridge.
//
// This package provides:
//   - REST endpoints for the derived fireplace view, raw attributes, semantic
//     commands, the attribute history and connectivity probes
//   - WebSocket hub relaying every applied change as fireplace.state_changed
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support
//
// # Semantics
//
// Writes answer 202 Accepted: a write is queued for the fireplace, and the
// stored state changes only when the device reports the new value. Clients
// watch the WebSocket feed (or poll the state) to observe the outcome.
//
// # Graceful Degradation
//
// History, MQTT and database metrics are optional. Endpoints that depend on a
// missing component answer 503; everything else keeps working.
package api
