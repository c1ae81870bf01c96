// Package server coordinates client registration, frame routing, presence
// bookkeeping, and broadcast fan-out via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// inboundFrame pairs a raw frame with the connection that produced it.
type inboundFrame struct {
	client  *Client
	payload []byte
}

// Hub runs the relay's event loop. All registry mutations and send-channel
// lifecycle changes happen on this single loop, so presence updates for one
// identity can never interleave, and broadcast order (discrete notice before
// snapshot) is preserved per connection.
type Hub struct {
	cfg      Config
	registry *Registry

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub using the provided configuration and registry. Passing
// a nil config applies defaults.
func NewHub(cfg *Config, registry *Registry) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        *cfg,
		registry:   registry,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run starts the hub's main event loop, handling client registration,
// disconnects, and frame routing. This method should be called in a separate
// goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.registry.Register(client)
			connections, _ := h.registry.Stats()
			log.Printf("Client connected: %s (session %s, %s). Total connections: %d",
				client.Identity(), client.sessionID, client.addr, connections)

			if client.conn != nil {
				h.wg.Add(2)
				go func() {
					defer h.wg.Done()
					client.writePump()
				}()
				go func() {
					defer h.wg.Done()
					client.readPump()
				}()
			}

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case frame := <-h.inbound:
			h.handleFrame(frame.client, frame.payload)
		}
	}
}

// handleDisconnect removes the connection and treats it as one offline
// instance of its assigned identity, whether or not the client ever announced
// itself online. The registry guard makes the bookkeeping run exactly once
// per connection.
func (h *Hub) handleDisconnect(client *Client) {
	if !h.registry.Unregister(client) {
		return
	}
	close(client.send)

	identity := client.Identity()
	connections, _ := h.registry.Stats()
	log.Printf("Client disconnected: %s (session %s). Total connections: %d",
		identity, client.sessionID, connections)

	_, wentOffline := h.registry.DecrementPresence(identity)
	if wentOffline {
		h.broadcastEnvelope(newPresenceNotice(identity, statusOffline))
	}
	h.broadcastSnapshot()
}

// handleFrame classifies one inbound frame and routes it: typing notices are
// rebroadcast with senderId filled in, presence events mutate the registry
// and conditionally announce the transition, and everything else is relayed
// as a chat message.
func (h *Hub) handleFrame(client *Client, payload []byte) {
	kind, fields := classifyFrame(payload)

	switch kind {
	case frameTyping:
		fillSenderID(fields, client.Identity())
		h.broadcastEnvelope(fields)

	case framePresence:
		senderID := fillSenderID(fields, client.Identity())
		// A presence event is the client supplying its own identity; adopt it
		// so the disconnect path decrements the same key.
		client.setIdentity(senderID)
		h.handlePresence(senderID, fields)

	default:
		msg := buildChatMessage(fields, client.Identity(), time.Now())
		h.broadcastEnvelope(msg)
	}
}

// handlePresence applies an explicit presence event. Only the transition
// across zero produces a discrete notice; every recognized status change
// produces a snapshot so resynchronizing clients can reconcile.
func (h *Hub) handlePresence(senderID string, fields map[string]any) {
	status, _ := fields["status"].(string)

	switch status {
	case statusOnline:
		count, wasOffline := h.registry.IncrementPresence(senderID)
		if wasOffline {
			h.broadcastEnvelope(newPresenceNotice(senderID, statusOnline))
		}
		log.Printf("Presence online: %s (connections for identity: %d)", senderID, count)
		h.broadcastSnapshot()

	case statusOffline:
		count, wentOffline := h.registry.DecrementPresence(senderID)
		if wentOffline {
			h.broadcastEnvelope(newPresenceNotice(senderID, statusOffline))
		}
		log.Printf("Presence offline: %s (connections for identity: %d)", senderID, count)
		h.broadcastSnapshot()

	default:
		log.Printf("Ignoring presence event with unknown status %q from %s", status, senderID)
	}
}

func (h *Hub) broadcastSnapshot() {
	h.broadcastEnvelope(newPresenceSnapshot(h.registry.SnapshotIdentities()))
}

// broadcastEnvelope serializes an envelope and fans it out to every live
// connection, including the sender. Connections whose buffers are full are
// skipped silently; delivery is best effort.
func (h *Hub) broadcastEnvelope(envelope any) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Error serializing broadcast envelope: %v", err)
		return
	}
	h.broadcastPayload(payload)
}

func (h *Hub) broadcastPayload(payload []byte) {
	for _, client := range h.registry.Connections() {
		if !client.trySend(payload) {
			log.Printf("Skipping broadcast to %s (session %s): send buffer not ready",
				client.Identity(), client.sessionID)
		}
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	clients := h.registry.Connections()
	log.Printf("Shutting down %d client connections...", len(clients))

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing client connection from %s: %v", client.addr, err)
			}
		}
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	// The loop has exited, but read pumps may still be pushing their final
	// disconnect events. Keep unregistering them so each send channel is
	// closed and the paired write pump can drain out; without that, wg.Wait
	// below never returns.
	drained := make(chan struct{})
	defer close(drained)
	go func() {
		for {
			select {
			case client := <-h.unregister:
				if h.registry.Unregister(client) {
					close(client.send)
				}
			case <-h.inbound:
			case <-drained:
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
