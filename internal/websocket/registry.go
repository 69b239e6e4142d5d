package websocket

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"rollcall/pkg/types"
)

// Registry tracks live feed connections by session and fans presence events out
// ARCHITECTURAL DISCOVERY: A lecturer may watch the same session from several clients,
// so connections are keyed by pointer rather than replaced per user
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Connection]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]map[*Connection]struct{}),
	}
}

// RegisterConnection adds conn under its session
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.SessionID() == 0 {
		return ErrMissingSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[conn.SessionID()]
	if !ok {
		conns = make(map[*Connection]struct{})
		r.sessions[conn.SessionID()] = conns
	}
	conns[conn] = struct{}{}
	return nil
}

// UnregisterConnection removes conn; idempotent
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[conn.SessionID()]
	if !ok {
		return
	}
	delete(conns, conn)
	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if len(conns) == 0 {
		delete(r.sessions, conn.SessionID())
	}
}

// GetSessionConnections returns the connections following sessionID
func (r *Registry) GetSessionConnections(sessionID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.sessions[sessionID]))
	for conn := range r.sessions[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcast delivers event to every follower of its session and returns how many accepted it
// FUNCTIONAL DISCOVERY: Writes happen outside the registry lock; a slow socket delays
// only its own delivery queue
func (r *Registry) Broadcast(event types.PresenceEvent) int {
	delivered := 0
	for _, conn := range r.GetSessionConnections(event.SessionID) {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("websocket: failed to deliver %s to user %d: %v", event.Type, conn.UserID(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseSession ends every feed of sessionID with a normal close frame
func (r *Registry) CloseSession(sessionID int64, reason string) int {
	r.mu.Lock()
	conns := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	for conn := range conns {
		if err := conn.CloseWith(websocket.CloseNormalClosure, reason); err != nil {
			log.Printf("websocket: failed to close feed of user %d: %v", conn.UserID(), err)
		}
	}
	return len(conns)
}

// GetStats returns registry counters for the health endpoint
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.sessions {
		total += len(conns)
	}
	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.sessions),
	}
}
