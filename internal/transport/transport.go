// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent options and error classification.

package transport

import (
	"errors"
	"io"
	"time"

	"github.com/momentics/wsreactor/api"
)

// Options tunes the listening socket and the connections it accepts.
type Options struct {
	// Backlog is the listen(2) queue length. Zero selects the OS maximum.
	Backlog int
	// WriteTimeout bounds how long Write waits for a full send buffer to
	// drain. Zero waits indefinitely.
	WriteTimeout time.Duration
	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool
}

// DefaultOptions returns the options used by the server.
func DefaultOptions() Options {
	return Options{
		WriteTimeout: 5 * time.Second,
		NoDelay:      true,
	}
}

// IsTransient reports whether err is an ordinary way for a peer connection
// to end (reset, broken pipe, timeout and the like). Such errors are handled
// as disconnects; anything else deserves an error log.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, api.ErrClientClosed) {
		return true
	}
	return isTransientErrno(err)
}
