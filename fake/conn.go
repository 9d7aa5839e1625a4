// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the socket contracts.

package fake

import (
	"bytes"
	"sync"

	"github.com/momentics/wsreactor/api"
)

// Conn is an in-memory api.Conn. Bytes queued with AddRecvData are handed out
// by Read; everything written is recorded for inspection.
type Conn struct {
	mu         sync.Mutex
	fd         int
	remote     string
	recv       []byte
	sent       [][]byte
	peerClosed bool
	closed     bool
	readError  error
	writeError error
	closeError error
	notify     func()
}

// NewConn creates a standalone fake connection.
func NewConn(fd int, remote string) *Conn {
	return &Conn{fd: fd, remote: remote}
}

// Read implements api.Conn.Read.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, api.ErrClientClosed
	}
	if c.readError != nil {
		err := c.readError
		c.readError = nil
		return 0, err
	}
	if len(c.recv) > 0 {
		n := copy(p, c.recv)
		c.recv = c.recv[n:]
		return n, nil
	}
	if c.peerClosed {
		return 0, nil
	}
	return 0, api.ErrWouldBlock
}

// Write implements api.Conn.Write.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, api.ErrClientClosed
	}
	if c.writeError != nil {
		return 0, c.writeError
	}
	c.sent = append(c.sent, append([]byte(nil), p...))
	return len(p), nil
}

// Close implements api.Conn.Close.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeError != nil {
		return c.closeError
	}
	c.closed = true
	return nil
}

// Fd implements api.Conn.Fd.
func (c *Conn) Fd() int { return c.fd }

// RemoteAddr implements api.Conn.RemoteAddr.
func (c *Conn) RemoteAddr() string { return c.remote }

// AddRecvData queues data to be returned by subsequent Read calls.
func (c *Conn) AddRecvData(data []byte) {
	c.mu.Lock()
	c.recv = append(c.recv, data...)
	notify := c.notify
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// ClosePeer simulates the remote side closing: once queued data is drained,
// Read returns (0, nil).
func (c *Conn) ClosePeer() {
	c.mu.Lock()
	c.peerClosed = true
	notify := c.notify
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// SetReadError makes the next Read fail with err.
func (c *Conn) SetReadError(err error) {
	c.mu.Lock()
	c.readError = err
	notify := c.notify
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// SetWriteError makes every Write fail with err.
func (c *Conn) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeError = err
}

// SetCloseError makes Close fail with err.
func (c *Conn) SetCloseError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeError = err
}

// GetSentData returns every buffer passed to Write, in order.
func (c *Conn) GetSentData() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	sent := make([][]byte, len(c.sent))
	copy(sent, c.sent)
	return sent
}

// SentBytes returns everything written so far as one stream.
func (c *Conn) SentBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.sent, nil)
}

// ClearSentData forgets recorded writes.
func (c *Conn) ClearSentData() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) readable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && (len(c.recv) > 0 || c.peerClosed || c.readError != nil)
}
