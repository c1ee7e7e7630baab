package serialio

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrAlreadyConnected is returned when a port already has an open
// connection in the registry.
var ErrAlreadyConnected = errors.New("port already connected")

// ErrNotConnected is returned for ports with no open connection.
var ErrNotConnected = errors.New("port not connected")

// Registry holds at most one Connection per port name. It is built and
// passed explicitly to whatever needs it; there is no process-wide
// instance.
type Registry struct {
	opener Opener

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewRegistry creates an empty connection registry. A nil opener uses
// the OS serial implementation.
func NewRegistry(opener Opener) *Registry {
	return &Registry{opener: opener, conns: make(map[string]*Connection)}
}

// Connect opens a port and records the connection. A port that is
// already present fails with ErrAlreadyConnected rather than sharing
// the existing handle.
func (r *Registry) Connect(port string, baud int) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[port]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, port)
	}

	conn, err := Open(port, baud, r.opener)
	if err != nil {
		return nil, err
	}
	r.conns[port] = conn
	return conn, nil
}

// Disconnect closes and removes a port's connection.
func (r *Registry) Disconnect(port string) error {
	r.mu.Lock()
	conn, ok := r.conns[port]
	if ok {
		delete(r.conns, port)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, port)
	}
	if err := conn.Close(); err != nil {
		log.Printf("serial: close %s: %v", port, err)
	}
	return nil
}

// Get returns the open connection for a port, if any.
func (r *Registry) Get(port string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[port]
	return conn, ok
}

// Connected reports whether a port has an open connection.
func (r *Registry) Connected(port string) bool {
	_, ok := r.Get(port)
	return ok
}

// Ports lists the port names with open connections.
func (r *Registry) Ports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns))
	for port := range r.conns {
		out = append(out, port)
	}
	return out
}

// CloseAll disconnects everything; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for port, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("serial: close %s: %v", port, err)
		}
	}
}
