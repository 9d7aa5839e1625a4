// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness-based multiplexing used by the
// server's event loop.

package api

import "time"

// Poller defines readiness multiplexing over a set of descriptors.
type Poller interface {
	// Add starts watching fd for read readiness.
	Add(fd int) error

	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks for at most timeout and fills ready with descriptors that
	// can be read. It returns the number of entries written. A return of
	// (0, nil) means the timeout elapsed, a wake-up was requested, or the
	// wait was interrupted by a signal.
	Wait(timeout time.Duration, ready []int) (int, error)

	// Wake interrupts a concurrent Wait. Safe to call from any goroutine.
	Wake() error

	// Close releases the poller.
	Close() error
}
