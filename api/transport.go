// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the socket abstractions the reactor multiplexes. Implementations are
// non-blocking: Read returns ErrWouldBlock instead of parking the caller.

package api

// Conn abstracts one accepted, non-blocking stream connection.
type Conn interface {
	// Read reads available bytes into p. A return of (0, nil) means the peer
	// closed its side of the stream.
	Read(p []byte) (n int, err error)

	// Write writes all of p or fails.
	Write(p []byte) (n int, err error)

	// Close shuts down the connection. It is safe to call more than once.
	Close() error

	// Fd returns the OS-level descriptor used as the readiness key.
	Fd() int

	// RemoteAddr returns the peer address in host:port form.
	RemoteAddr() string
}

// Listener is the master socket accepting new connections.
type Listener interface {
	// Accept returns the next pending connection or ErrWouldBlock.
	Accept() (Conn, error)

	// Close closes the listening socket.
	Close() error

	// Fd returns the listening descriptor.
	Fd() int

	// Addr returns the bound local address in host:port form.
	Addr() string
}
