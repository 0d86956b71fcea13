// Package presence owns the volatile map from authenticated users to their
// live connections. It is rebuilt from scratch on process restart; nothing
// here touches durable storage.
package presence

import (
	"sync"
	"time"

	"comm_core/internal/event"
)

// Conn is the minimal surface the registry needs from a live connection.
// Emit enqueues an event for the connection's writer; it never blocks.
type Conn interface {
	ID() string
	UserID() int64
	Emit(name string, payload any)
}

// Registry maps user id to the single active connection for that user.
// A new connection for the same user replaces the previous one
// (last-connection-wins; there is no multi-device fan-out).
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]Conn)}
}

// Register installs c as the connection for its user, announces the user as
// online to every live connection and hands c the current online snapshot.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	r.conns[c.UserID()] = c
	r.mu.Unlock()

	// Online now, so last_seen is null.
	r.Broadcast(event.UserStatusName, event.UserStatus{
		UserID: c.UserID(),
		Status: "online",
	})
	c.Emit(event.OnlineUsersName, r.OnlineUserIDs())
}

// Unregister removes the mapping for c's user, but only if it still points
// at c. A stale disconnect arriving after a newer connection registered must
// not evict the newer mapping.
func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	cur, ok := r.conns[c.UserID()]
	if !ok || cur.ID() != c.ID() {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.UserID())
	r.mu.Unlock()

	now := time.Now().UTC()
	r.Broadcast(event.UserStatusName, event.UserStatus{
		UserID:   c.UserID(),
		Status:   "offline",
		LastSeen: &now,
	})
}

func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast emits an event to every live connection.
func (r *Registry) Broadcast(name string, payload any) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Emit(name, payload)
	}
}
