package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/drawhub/canvas-relay/internal/types"
)

// Registry is the process-wide mapping from live connection to identity and
// room memberships. Every operation is atomic with respect to the others;
// readers and writers never interleave partially.
type Registry struct {
	log     *log.Logger
	mu      sync.Mutex
	clients map[*Client]map[types.RoomId]struct{}
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		log:     logger,
		clients: make(map[*Client]map[types.RoomId]struct{}),
	}
}

// Register adds an entry for the connection. Registering the same connection
// twice is a programming error.
func (reg *Registry) Register(c *Client) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.clients[c]; ok {
		return fmt.Errorf("connection already registered for %q", c.user.Id)
	}

	reg.clients[c] = make(map[types.RoomId]struct{})
	return nil
}

// Unregister removes the entry and returns the membership set it held, for
// cleanup broadcasting. A connection that was never registered yields an
// empty set, which protects against a double close.
func (reg *Registry) Unregister(c *Client) ([]types.RoomId, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	memberships, ok := reg.clients[c]
	if !ok {
		return nil, false
	}

	delete(reg.clients, c)

	rooms := make([]types.RoomId, 0, len(memberships))
	for room := range memberships {
		rooms = append(rooms, room)
	}
	return rooms, true
}

// Join adds the room to the connection's membership set. Joining an
// already-joined room is a no-op; the return value reports whether the set
// changed.
func (reg *Registry) Join(c *Client, room types.RoomId) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	memberships, ok := reg.clients[c]
	if !ok {
		reg.log.Printf("join: connection for %q not registered", c.user.Id)
		return false
	}

	if _, ok := memberships[room]; ok {
		return false
	}

	memberships[room] = struct{}{}
	return true
}

// Leave removes the room from the connection's membership set and reports
// whether the set changed.
func (reg *Registry) Leave(c *Client, room types.RoomId) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	memberships, ok := reg.clients[c]
	if !ok {
		return false
	}

	if _, ok := memberships[room]; !ok {
		return false
	}

	delete(memberships, room)
	return true
}

// Snapshot returns the identities currently joined to the room. Order is
// arbitrary; no ordering is promised to clients.
func (reg *Registry) Snapshot(room types.RoomId) []types.User {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var users []types.User
	for c, memberships := range reg.clients {
		if _, ok := memberships[room]; ok {
			users = append(users, c.user)
		}
	}
	return users
}

// Members returns the connections currently joined to the room.
func (reg *Registry) Members(room types.RoomId) []*Client {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var members []*Client
	for c, memberships := range reg.clients {
		if _, ok := memberships[room]; ok {
			members = append(members, c)
		}
	}
	return members
}

// Clients returns every registered connection, for shutdown.
func (reg *Registry) Clients() []*Client {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	clients := make([]*Client, 0, len(reg.clients))
	for c := range reg.clients {
		clients = append(clients, c)
	}
	return clients
}
