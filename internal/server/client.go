// Package server manages individual WebSocket clients, handling read/write
// pumps, liveness state, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// guestIDSpace bounds the random suffix of generated guest identities.
// Collisions are possible and deliberately not deduplicated; deployed clients
// depend on the identity string matching across presence events.
const guestIDSpace = 10000

func generateGuestID() string {
	return "guest-" + strconv.Itoa(rand.Intn(guestIDSpace))
}

// Client represents a single WebSocket connection in the relay. Guest
// identities may collide, so each client also carries a unique session id
// used only for logging.
//
// The identity starts as a generated guest id and is replaced when the client
// announces a presence event carrying its own senderId. Only the hub loop
// writes it; the mutex covers reads from the pump goroutines.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	sessionID string
	addr      string
	alive     atomic.Bool

	mu       sync.Mutex
	identity string
}

// NewClient creates a Client for the given WebSocket connection, assigning a
// generated guest identity and marking the connection alive. The send channel
// is buffered to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       hub,
		identity:  generateGuestID(),
		sessionID: uuid.New().String(),
		addr:      addr,
	}
	client.alive.Store(true)

	if conn != nil {
		conn.SetReadLimit(hub.cfg.MaxMessageSize)
		conn.SetPongHandler(func(string) error {
			client.alive.Store(true)
			return nil
		})
	}

	return client
}

// Identity returns the connection's assigned identity.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// setIdentity adopts an identity the client announced for itself.
func (c *Client) setIdentity(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// trySend queues a payload for delivery, skipping the client when its buffer
// is full. Only the hub loop calls this, so sends never race a channel close.
func (c *Client) trySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// probe sends a liveness ping. WriteControl is safe to call concurrently with
// the write pump.
func (c *Client) probe() {
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error sending liveness probe to %s (session %s): %v", c.addr, c.sessionID, err)
		}
	}
}

// terminate forcibly closes the underlying connection, which unblocks the
// read pump and drives the normal disconnect path. Connections without a
// transport (as constructed in tests) are unregistered directly.
func (c *Client) terminate() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error terminating connection from %s (session %s): %v", c.addr, c.sessionID, err)
		}
		return
	}
	c.hub.unregister <- c
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.hub.cfg.MaxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s disconnected: %v", c.Identity(), err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.Identity(), err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
		return true
	}

	log.Printf("WebSocket read error from %s: %v", c.addr, err)
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			break
		}
		c.hub.inbound <- inboundFrame{client: c, payload: rawMessage}
	}
}

func (c *Client) writePump() {
	defer c.closeConnection()

	for message := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Printf("Error setting write deadline for %s: %v", c.addr, err)
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error writing message to %s: %v", c.addr, err)
			}
			return
		}
	}

	// Send channel closed by the hub: tell the peer we are done.
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error writing close message to %s: %v", c.addr, err)
			}
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
