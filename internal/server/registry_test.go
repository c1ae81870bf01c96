package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PresenceCounting(t *testing.T) {
	tests := []struct {
		name       string
		increments int
		decrements int
		wantOnline bool
	}{
		{name: "single connection", increments: 1, decrements: 0, wantOnline: true},
		{name: "multi tab", increments: 3, decrements: 2, wantOnline: true},
		{name: "balanced", increments: 2, decrements: 2, wantOnline: false},
		{name: "extra decrements never go negative", increments: 1, decrements: 5, wantOnline: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for i := 0; i < tt.increments; i++ {
				count, _ := r.IncrementPresence("u1")
				assert.Equal(t, i+1, count)
			}
			for i := 0; i < tt.decrements; i++ {
				count, _ := r.DecrementPresence("u1")
				assert.GreaterOrEqual(t, count, 0)
			}

			identities := r.SnapshotIdentities()
			if tt.wantOnline {
				assert.Equal(t, []string{"u1"}, identities)
			} else {
				assert.Empty(t, identities)
			}
		})
	}
}

func TestRegistry_TransitionFlags(t *testing.T) {
	r := NewRegistry()

	count, wasOffline := r.IncrementPresence("u1")
	require.Equal(t, 1, count)
	assert.True(t, wasOffline, "first connection must report the offline-to-online transition")

	count, wasOffline = r.IncrementPresence("u1")
	require.Equal(t, 2, count)
	assert.False(t, wasOffline, "second tab must not report a transition")

	count, wentOffline := r.DecrementPresence("u1")
	require.Equal(t, 1, count)
	assert.False(t, wentOffline, "closing one of two tabs must not report a transition")

	count, wentOffline = r.DecrementPresence("u1")
	require.Equal(t, 0, count)
	assert.True(t, wentOffline, "last tab closing must report the online-to-offline transition")
}

func TestRegistry_DecrementNeverSeenIdentity(t *testing.T) {
	r := NewRegistry()

	count, wentOffline := r.DecrementPresence("ghost")
	assert.Equal(t, 0, count)
	assert.True(t, wentOffline)
	assert.Empty(t, r.SnapshotIdentities())

	// Repeating must stay idempotent and never underflow.
	count, wentOffline = r.DecrementPresence("ghost")
	assert.Equal(t, 0, count)
	assert.True(t, wentOffline)
}

func TestRegistry_SnapshotIsSortedAndExact(t *testing.T) {
	r := NewRegistry()
	r.IncrementPresence("carol")
	r.IncrementPresence("alice")
	r.IncrementPresence("bob")
	r.IncrementPresence("alice")
	r.DecrementPresence("carol")

	assert.Equal(t, []string{"alice", "bob"}, r.SnapshotIdentities())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	client := &Client{}

	r.Register(client)
	connections, _ := r.Stats()
	require.Equal(t, 1, connections)

	assert.True(t, r.Unregister(client))
	assert.False(t, r.Unregister(client), "second unregister must be a no-op")

	connections, _ = r.Stats()
	assert.Equal(t, 0, connections)
}

func TestRegistry_ConcurrentPresenceUpdates(t *testing.T) {
	const workers = 100
	r := NewRegistry()
	transitions := make(chan bool, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, wasOffline := r.IncrementPresence("u1")
			transitions <- wasOffline
		}()
	}
	wg.Wait()
	close(transitions)

	online := 0
	for wasOffline := range transitions {
		if wasOffline {
			online++
		}
	}
	assert.Equal(t, 1, online, "exactly one increment may observe the transition")
	assert.Equal(t, []string{"u1"}, r.SnapshotIdentities())

	offline := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, wentOffline := r.DecrementPresence("u1")
			offline <- wentOffline
		}()
	}
	wg.Wait()
	close(offline)

	gone := 0
	for wentOffline := range offline {
		if wentOffline {
			gone++
		}
	}
	assert.Equal(t, 1, gone, "exactly one decrement may observe the transition")
	assert.Empty(t, r.SnapshotIdentities())
}
