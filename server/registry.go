// File: server/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry tracks live clients in accept order with O(1) lookup by
// descriptor and by ID. It is mutated only by the loop goroutine; Len is the
// one method safe to call from elsewhere.

package server

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/protocol"
)

// Registry is the set of connected clients.
type Registry struct {
	clients []*Client
	byFd    map[int]*Client
	byID    map[string]*Client
	count   atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byFd: make(map[int]*Client),
		byID: make(map[string]*Client),
	}
}

// Register adds c. A descriptor or ID already present is an error.
func (r *Registry) Register(c *Client) error {
	if _, ok := r.byFd[c.fd]; ok {
		return fmt.Errorf("register fd %d: %w", c.fd, api.ErrInvalidArgument)
	}
	if _, ok := r.byID[c.id]; ok {
		return fmt.Errorf("register id %s: %w", c.id, api.ErrInvalidArgument)
	}
	r.clients = append(r.clients, c)
	r.byFd[c.fd] = c
	r.byID[c.id] = c
	r.count.Add(1)
	return nil
}

// Unregister removes the client with the given ID and returns it.
func (r *Registry) Unregister(id string) (*Client, bool) {
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	if r.byFd[c.fd] == c {
		delete(r.byFd, c.fd)
	}
	for i, x := range r.clients {
		if x == c {
			copy(r.clients[i:], r.clients[i+1:])
			r.clients[len(r.clients)-1] = nil
			r.clients = r.clients[:len(r.clients)-1]
			break
		}
	}
	r.count.Add(-1)
	return c, true
}

// Find returns the client reading from fd, or nil.
func (r *Registry) Find(fd int) *Client {
	return r.byFd[fd]
}

// Get returns the client with the given ID, or nil.
func (r *Registry) Get(id string) *Client {
	return r.byID[id]
}

// Clients returns a snapshot of the registered clients in accept order.
// A non-empty uri keeps only clients whose handshake targeted it.
func (r *Registry) Clients(uri string) []*Client {
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if uri == "" || c.uri == uri {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Broadcast sends msg to every handshaked client and returns how many sends
// succeeded. A failing client does not stop the others.
func (r *Registry) Broadcast(opcode protocol.Opcode, msg []byte) int {
	return r.BroadcastURI("", opcode, msg)
}

// BroadcastURI is Broadcast restricted to clients connected on uri.
func (r *Registry) BroadcastURI(uri string, opcode protocol.Opcode, msg []byte) int {
	sent := 0
	for _, c := range r.Clients(uri) {
		if !c.handshaked || c.Closing() {
			continue
		}
		if err := c.Send(opcode, msg); err == nil {
			sent++
		}
	}
	return sent
}
