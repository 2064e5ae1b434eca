// Package api implements the HTTP REST API and WebSocket server for gridd.
//
// This package provides:
//   - REST endpoints for the ready device list, supervisor status and attach history
//   - POST endpoints that enable or disable device detection
//   - A WebSocket hub that relays device add/remove and run-state events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server is a read-mostly window onto the supervisor. Queries are
// answered through the supervisor's own event loop so the HTTP goroutines
// never touch the registry directly. The Hub implements
// supervisor.EventSink; register it in supervisor.Options.Sinks to have
// events broadcast as they happen.
//
// # Graceful Degradation
//
// The history endpoint returns 503 when no database is configured. All other
// routes work with only a supervisor.
package api
