// Package server detects unresponsive connections through the Monitor type,
// a periodic ping/pong sweep over the live connection set.
package server

import (
	"context"
	"log"
	"time"
)

// Monitor evicts peers that stop acknowledging liveness probes. Each sweep,
// a connection that never answered the previous probe is forcibly terminated
// (driving the normal disconnect path); every other connection has its flag
// cleared and receives a fresh ping. A connection therefore survives only by
// answering at least one probe per interval.
//
// The sweep runs on its own goroutine so a peer with a stalled TCP buffer
// cannot hold up the hub loop.
type Monitor struct {
	registry *Registry
	interval time.Duration
}

// NewMonitor creates a Monitor sweeping the given registry at the given
// interval.
func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{registry: registry, interval: interval}
}

// Run sweeps the registry until the context is cancelled. It should be
// called in a separate goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep performs one liveness pass over every live connection.
func (m *Monitor) sweep() {
	for _, client := range m.registry.Connections() {
		if !client.alive.Load() {
			log.Printf("Evicting unresponsive client %s (session %s, %s)",
				client.Identity(), client.sessionID, client.addr)
			client.terminate()
			continue
		}
		client.alive.Store(false)
		client.probe()
	}
}
