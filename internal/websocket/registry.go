package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Registry tracks every live websocket connection on this process.
// ARCHITECTURAL DISCOVERY: room membership lives in the hub; this registry only
// exists so shutdown can reach sockets the HTTP server no longer owns
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// Register adds conn under its id.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes conn. Removing an unknown connection is a no-op.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Only remove the instance that is registered under this id.
	if registered, exists := r.connections[conn.ID()]; exists && registered == conn {
		delete(r.connections, conn.ID())
	}
}

// Get returns the connection with the given id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection with a going-away frame.
// Connections unregister themselves as their read loops exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}
