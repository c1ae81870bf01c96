// Package server wires HTTP handlers into a ServeMux for the relay
// application via routing helpers.
package server

import "net/http"

// NewRouter configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, and stats.
func NewRouter(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(hub))
	mux.HandleFunc("/stats", StatsHandler(hub.Registry()))
	return mux
}
