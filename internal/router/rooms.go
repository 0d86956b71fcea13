// Package router manages conversation channels: broadcast groups keyed by
// conversation id that connections join and leave explicitly. Joins are
// trusted client intent; membership is not verified against storage.
package router

import (
	"sync"

	"comm_core/internal/presence"
)

// Rooms keeps a forward index (conversation -> connections) for broadcasts
// and a reverse index (connection -> conversations) so a disconnect can be
// cleaned up without scanning every room.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[int64]map[string]presence.Conn
	conns map[string]map[int64]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms: make(map[int64]map[string]presence.Conn),
		conns: make(map[string]map[int64]struct{}),
	}
}

func (r *Rooms) Join(c presence.Conn, conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[conversationID] == nil {
		r.rooms[conversationID] = make(map[string]presence.Conn)
	}
	r.rooms[conversationID][c.ID()] = c
	if r.conns[c.ID()] == nil {
		r.conns[c.ID()] = make(map[int64]struct{})
	}
	r.conns[c.ID()][conversationID] = struct{}{}
}

func (r *Rooms) Leave(c presence.Conn, conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(c.ID(), conversationID)
}

// Drop removes a connection from every room it joined. Called on disconnect.
func (r *Rooms) Drop(c presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversationID := range r.conns[c.ID()] {
		r.remove(c.ID(), conversationID)
	}
}

// remove assumes r.mu is held.
func (r *Rooms) remove(connID string, conversationID int64) {
	if members, ok := r.rooms[conversationID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
	if joined, ok := r.conns[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
}

// Broadcast emits an event to every connection in the conversation room,
// skipping excludeConnID when non-empty.
func (r *Rooms) Broadcast(conversationID int64, name string, payload any, excludeConnID string) {
	r.mu.RLock()
	members := make([]presence.Conn, 0, len(r.rooms[conversationID]))
	for id, c := range r.rooms[conversationID] {
		if id == excludeConnID {
			continue
		}
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		c.Emit(name, payload)
	}
}

// members returns the connections currently joined to a conversation room.
func (r *Rooms) members(conversationID int64) []presence.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]presence.Conn, 0, len(r.rooms[conversationID]))
	for _, c := range r.rooms[conversationID] {
		out = append(out, c)
	}
	return out
}
