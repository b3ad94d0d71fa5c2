package registry

import (
	"errors"
	"sync"

	"github.com/adwski/projhub-signaling/backend/model"
	"github.com/google/uuid"
)

var (
	ErrNotConnected = errors.New("connection is not registered")
)

// Connection is a registry record of one live client socket.
type Connection struct {
	ID        string
	Namespace model.Namespace
	Room      string
	Name      string

	// Joined is set on first room join and never reset.
	Joined bool
}

// Registry tracks live connections of a single namespace
// and the room each one currently belongs to.
type Registry struct {
	mx    *sync.RWMutex
	conns map[string]*Connection
	ns    model.Namespace
}

func New(ns model.Namespace) *Registry {
	return &Registry{
		mx:    &sync.RWMutex{},
		conns: make(map[string]*Connection),
		ns:    ns,
	}
}

func (r *Registry) Namespace() model.Namespace {
	return r.ns
}

// Connect assigns a fresh connection id.
func (r *Registry) Connect() string {
	id := uuid.NewString()

	r.mx.Lock()
	defer r.mx.Unlock()

	r.conns[id] = &Connection{
		ID:        id,
		Namespace: r.ns,
	}
	return id
}

// Disconnect removes connection and returns its last state.
// Only the first call for a given id reports ok.
func (r *Registry) Disconnect(id string) (Connection, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	return *conn, true
}

func (r *Registry) Get(id string) (Connection, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// SetRoom records room association, empty room clears it.
func (r *Registry) SetRoom(id, room string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrNotConnected
	}
	conn.Room = room
	if room != "" {
		conn.Joined = true
	}
	return nil
}

func (r *Registry) Room(id string) (string, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	conn, ok := r.conns[id]
	if !ok || conn.Room == "" {
		return "", false
	}
	return conn.Room, true
}

func (r *Registry) SetName(id, name string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrNotConnected
	}
	conn.Name = name
	return nil
}

func (r *Registry) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.conns)
}
