package websocket

import (
	"log"
	"sync"
)

// Registry tracks observer connections by id
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// RegisterConnection adds conn, replacing and closing any connection with
// the same id
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.ID() == "" {
		return ErrMissingIdentifier
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connections[conn.ID()]; ok && existing != conn {
		// closed off the lock; Close may block on the socket
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: id=%s err=%v", existing.ID(), err)
			}
		}()
	}
	r.connections[conn.ID()] = conn
	return nil
}

// UnregisterConnection removes conn if it is still the registered instance
// for its id. Idempotent.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.connections[conn.ID()]; ok && registered == conn {
		delete(r.connections, conn.ID())
	}
}

// GetConnection returns the connection registered under id
func (r *Registry) GetConnection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[id]
	return conn, ok
}

// Connections returns a snapshot of all registered connections
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	return out
}

// CloseAll closes and removes every connection
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.connections
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// GetStats returns registry statistics for health reporting
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"observers": len(r.connections),
	}
}
