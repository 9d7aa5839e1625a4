// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for the WebSocket server.
//
// Provides concurrent-safe observability primitives including:
//   - Prometheus collectors for connections, handshakes, frames and panics
//   - Named debug probes dumped as a JSON state snapshot
//   - An HTTP handler exposing both on /metrics and /debug/state
package control
