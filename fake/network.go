// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory network: a listener, a level-triggered poller and the connections
// between them share one readiness view, so the server loop can run without
// real sockets.

package fake

import (
	"strconv"
	"sync"
	"time"

	"github.com/momentics/wsreactor/api"
)

const listenerFd = 3

// Network ties a fake Listener, Poller and Conns together.
type Network struct {
	mu      sync.Mutex
	nextFd  int
	pending []*Conn
	conns   map[int]*Conn
	watched map[int]bool
	closed  bool
	signal  chan struct{}
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		nextFd:  listenerFd + 1,
		conns:   make(map[int]*Conn),
		watched: make(map[int]bool),
		signal:  make(chan struct{}, 1),
	}
}

func (n *Network) notify() {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

// Dial queues a new inbound connection for the listener and returns the
// server-side Conn, through which tests inject client bytes.
func (n *Network) Dial() *Conn {
	n.mu.Lock()
	fd := n.nextFd
	n.nextFd++
	c := NewConn(fd, "10.0.0.1:"+strconv.Itoa(40000+fd))
	c.notify = n.notify
	n.pending = append(n.pending, c)
	n.conns[fd] = c
	n.mu.Unlock()
	n.notify()
	return c
}

// Listener returns the api.Listener view of the network.
func (n *Network) Listener() *Listener { return &Listener{net: n} }

// Poller returns the api.Poller view of the network.
func (n *Network) Poller() *Poller { return &Poller{net: n} }

// Listener is a fake api.Listener fed by Network.Dial.
type Listener struct {
	net *Network
}

// Accept implements api.Listener.Accept.
func (l *Listener) Accept() (api.Conn, error) {
	n := l.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, api.ErrServerClosed
	}
	if len(n.pending) == 0 {
		return nil, api.ErrWouldBlock
	}
	c := n.pending[0]
	n.pending = n.pending[1:]
	return c, nil
}

// Close implements api.Listener.Close.
func (l *Listener) Close() error {
	l.net.mu.Lock()
	l.net.closed = true
	l.net.mu.Unlock()
	return nil
}

// Fd implements api.Listener.Fd.
func (l *Listener) Fd() int { return listenerFd }

// Addr implements api.Listener.Addr.
func (l *Listener) Addr() string { return "127.0.0.1:6001" }

// Poller is a fake level-triggered api.Poller.
type Poller struct {
	net *Network
}

// Add implements api.Poller.Add.
func (p *Poller) Add(fd int) error {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	p.net.watched[fd] = true
	return nil
}

// Remove implements api.Poller.Remove.
func (p *Poller) Remove(fd int) error {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	delete(p.net.watched, fd)
	return nil
}

// Wait implements api.Poller.Wait.
func (p *Poller) Wait(timeout time.Duration, ready []int) (int, error) {
	if n := p.collect(ready); n > 0 {
		return n, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.net.signal:
		return p.collect(ready), nil
	case <-timer.C:
		return 0, nil
	}
}

func (p *Poller) collect(ready []int) int {
	n := p.net
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	if n.watched[listenerFd] && len(n.pending) > 0 && count < len(ready) {
		ready[count] = listenerFd
		count++
	}
	for fd, c := range n.conns {
		if count == len(ready) {
			break
		}
		if n.watched[fd] && c.readable() {
			ready[count] = fd
			count++
		}
	}
	return count
}

// Wake implements api.Poller.Wake.
func (p *Poller) Wake() error {
	p.net.notify()
	return nil
}

// Close implements api.Poller.Close.
func (p *Poller) Close() error { return nil }

var (
	_ api.Conn     = (*Conn)(nil)
	_ api.Listener = (*Listener)(nil)
	_ api.Poller   = (*Poller)(nil)
)
