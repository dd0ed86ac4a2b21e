// Package presence tracks which users currently hold live connections. The
// registry is process-local and rebuildable; it is never the source of truth
// for anything durable.
package presence

import "sync"

// Registry maps user ids to their set of active connection ids. A user may
// hold several simultaneous connections (multiple devices); they are online
// while the set is non-empty.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]map[string]struct{})}
}

// Register adds a connection and reports whether the user just came online.
func (r *Registry) Register(userID int, connID string) (wentOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	wentOnline = len(set) == 0
	set[connID] = struct{}{}
	return wentOnline
}

// Remove drops a connection and reports whether the user went offline. The
// offline edge fires only when the set transitions to empty, never on every
// disconnect. Empty sets are removed so the map does not leak.
func (r *Registry) Remove(userID int, connID string) (wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one active connection.
func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// ListOnlineUsers returns every user with an active connection.
func (r *Registry) ListOnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]int, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	return users
}

// ConnectionCount reports active connections for a user.
func (r *Registry) ConnectionCount(userID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}
