// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking TCP sockets for the reactor. The listener and its
// connections talk to the kernel directly through golang.org/x/sys/unix so
// their descriptors can be multiplexed by the reactor poller instead of the
// Go runtime netpoller. Build tags separate the Linux implementation from the
// stub used elsewhere.

package transport
