// Package server implements the core WebSocket relay for the Babel chat
// application.
//
// The implementation is organized into specialized files for configuration,
// the connection registry, the relay hub, per-connection clients, the liveness
// monitor, routing, and HTTP handlers to keep the codebase maintainable and
// testable as the project grows.
package server
