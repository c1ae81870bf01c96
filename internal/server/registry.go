// Package server tracks live connections and count-based user presence via
// the Registry type, the single source of truth for "who is connected" and
// "who is online".
package server

import (
	"sort"
	"sync"
)

// Registry holds the set of live connections and a mapping from logical user
// identity to the number of open connections for that identity. A user with
// several tabs open holds several connections under one identity; the user is
// online exactly while the count is above zero, and the entry is removed when
// it reaches zero.
//
// All methods are safe for concurrent use. The registry performs no I/O, so
// no lock is ever held across a network send.
type Registry struct {
	mu          sync.Mutex
	connections map[*Client]struct{}
	presence    map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[*Client]struct{}),
		presence:    make(map[string]int),
	}
}

// Register adds a connection to the live set, making it eligible for
// broadcasts.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[client] = struct{}{}
}

// Unregister removes a connection from the live set and reports whether it
// was present. Unregistering an absent connection is a no-op.
func (r *Registry) Unregister(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[client]; !ok {
		return false
	}
	delete(r.connections, client)
	return true
}

// IncrementPresence records one more open connection for identity and reports
// the new count plus whether the identity just transitioned from offline to
// online (i.e. this is its first open connection).
func (r *Registry) IncrementPresence(identity string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.presence[identity]
	r.presence[identity] = count + 1
	return count + 1, count == 0
}

// DecrementPresence records one fewer open connection for identity. When the
// count would drop to zero, or the identity was never seen, the entry is
// removed and wentOffline is reported true. The count never goes negative.
func (r *Registry) DecrementPresence(identity string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.presence[identity]
	if count <= 1 {
		delete(r.presence, identity)
		return 0, true
	}
	r.presence[identity] = count - 1
	return count - 1, false
}

// SnapshotIdentities returns every identity currently holding at least one
// open connection, sorted for deterministic broadcasts.
func (r *Registry) SnapshotIdentities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	identities := make([]string, 0, len(r.presence))
	for identity := range r.presence {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	return identities
}

// Connections returns a snapshot of the live connection set.
func (r *Registry) Connections() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients := make([]*Client, 0, len(r.connections))
	for client := range r.connections {
		clients = append(clients, client)
	}
	return clients
}

// Stats reports the number of live connections and of online identities.
func (r *Registry) Stats() (connections, onlineUsers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections), len(r.presence)
}
