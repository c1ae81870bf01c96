// Package server exposes HTTP handlers, including the WebSocket upgrade,
// health check, and stats endpoints.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler returns a handler that upgrades requests and registers the
// resulting connection with the hub. No presence broadcast happens on bare
// connect; presence is an explicit client-sent event.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	policy := newOriginPolicy(hub.cfg.AllowedOrigins)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.check,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)

		// Register the client with the hub; the hub launches the pump goroutines.
		// If the hub has already stopped, nothing will drain the register
		// channel, so close the connection instead of blocking the handler.
		select {
		case hub.register <- client:
		case <-hub.ctx.Done():
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint used by hosting and
// uptime infrastructure, not by chat clients.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Backend is alive!")
}

// StatsHandler returns a handler reporting live connection and online user
// counts from the registry.
func StatsHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		connections, onlineUsers := registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int{
			"connections": connections,
			"onlineUsers": onlineUsers,
		}); err != nil {
			log.Printf("Error writing stats response: %v", err)
		}
	}
}
