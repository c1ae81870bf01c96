// Package server defines the wire envelopes exchanged with chat clients and
// the classification rules that route each inbound frame.
package server

import (
	"encoding/json"
	"time"
)

// Event type discriminators and presence statuses used on the wire. Field
// names and values are fixed by the deployed clients and must not change.
const (
	eventTyping           = "typing"
	eventPresence         = "presence"
	eventPresenceSnapshot = "presenceSnapshot"

	statusOnline  = "online"
	statusOffline = "offline"
)

// frameKind is the routing decision for one inbound frame.
type frameKind int

const (
	frameChat frameKind = iota
	frameTyping
	framePresence
)

// ChatMessage is the server-to-client shape of a relayed chat message. Chat
// frames are rebuilt into exactly these fields; anything else the client sent
// is dropped. Text is a pointer so an empty string survives the round trip
// while a frame with no text at all omits the key.
type ChatMessage struct {
	Text      *string `json:"text,omitempty"`
	Sender    string  `json:"sender"`
	SenderID  string  `json:"senderId"`
	Avatar    *string `json:"avatar"`
	Timestamp int64   `json:"timestamp"`
}

// PresenceNotice announces a single identity crossing the online/offline
// boundary. Server-generated; clients send presence via the raw envelope.
type PresenceNotice struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
	Status   string `json:"status"`
}

// PresenceSnapshot carries the full set of currently-online identities so
// clients can reconcile state even if they missed a discrete notice.
type PresenceSnapshot struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

func newPresenceNotice(senderID, status string) PresenceNotice {
	return PresenceNotice{Type: eventPresence, SenderID: senderID, Status: status}
}

func newPresenceSnapshot(users []string) PresenceSnapshot {
	if users == nil {
		users = []string{}
	}
	return PresenceSnapshot{Type: eventPresenceSnapshot, Users: users}
}

// classifyFrame parses a raw frame and decides how it is routed. A frame that
// is not a JSON object falls back to a chat message carrying the raw payload
// as its text, which downstream default-filling attributes to the connection.
func classifyFrame(raw []byte) (frameKind, map[string]any) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return frameChat, map[string]any{"text": string(raw)}
	}

	switch fields["type"] {
	case eventTyping:
		return frameTyping, fields
	case eventPresence:
		return framePresence, fields
	default:
		return frameChat, fields
	}
}

// fillSenderID defaults the envelope's senderId to the connection identity
// and returns the effective value.
func fillSenderID(fields map[string]any, identity string) string {
	if id, ok := fields["senderId"].(string); ok && id != "" {
		return id
	}
	fields["senderId"] = identity
	return identity
}

// buildChatMessage projects an inbound chat envelope onto the fixed outbound
// shape, filling absent sender fields from the connection identity and
// stamping the server time (epoch milliseconds) when no timestamp was sent.
func buildChatMessage(fields map[string]any, identity string, now time.Time) ChatMessage {
	msg := ChatMessage{
		Sender:    identity,
		SenderID:  identity,
		Timestamp: now.UnixMilli(),
	}

	if text, ok := fields["text"].(string); ok {
		msg.Text = &text
	}
	if sender, ok := fields["sender"].(string); ok && sender != "" {
		msg.Sender = sender
	}
	if senderID, ok := fields["senderId"].(string); ok && senderID != "" {
		msg.SenderID = senderID
	}
	if avatar, ok := fields["avatar"].(string); ok && avatar != "" {
		msg.Avatar = &avatar
	}
	if ts, ok := fields["timestamp"].(float64); ok && ts != 0 {
		msg.Timestamp = int64(ts)
	}

	return msg
}
