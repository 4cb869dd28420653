package session

import (
	"sync"

	"github.com/emberfield/waystone/internal/command"
)

// Compile-time interface assertion.
var _ command.StatsSource = (*Registry)(nil)

// Registry tracks live connections and enforces the single-session-per-
// user policy: registering a user who already holds a connection evicts
// the old one. It also feeds the @stats admin verb.
type Registry struct {
	mu     sync.Mutex
	byID   map[string]*connection
	byUser map[string]string
}

type connection struct {
	id         string
	userID     string
	experience string
	evict      func()
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*connection),
		byUser: make(map[string]string),
	}
}

// Register records a new connection. evict is called (outside the
// registry lock, by this method) on the user's previous connection if one
// exists; the evicted session observes it as a closed socket.
func (r *Registry) Register(connID, userID, experience string, evict func()) {
	var previous func()

	r.mu.Lock()
	if oldID, held := r.byUser[userID]; held {
		if old, live := r.byID[oldID]; live {
			previous = old.evict
			delete(r.byID, oldID)
		}
	}
	r.byID[connID] = &connection{
		id:         connID,
		userID:     userID,
		experience: experience,
		evict:      evict,
	}
	r.byUser[userID] = connID
	r.mu.Unlock()

	if previous != nil {
		previous()
	}
}

// Deregister drops a connection. Safe to call for ids already evicted.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, live := r.byID[connID]
	if !live {
		return
	}
	delete(r.byID, connID)
	// Only clear the user mapping if it still points at this connection;
	// a replacement session may already own it.
	if r.byUser[conn.userID] == connID {
		delete(r.byUser, conn.userID)
	}
}

// ActiveConnections implements [command.StatsSource].
func (r *Registry) ActiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ConnectionsByExperience implements [command.StatsSource].
func (r *Registry) ConnectionsByExperience() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.byID))
	for _, conn := range r.byID {
		out[conn.experience]++
	}
	return out
}
