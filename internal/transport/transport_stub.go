//go:build !linux
// +build !linux

// File: internal/transport/transport_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without the raw socket implementation.

package transport

import "github.com/momentics/wsreactor/api"

// Listen returns api.ErrNotSupported.
func Listen(addr string, opts Options) (api.Listener, error) {
	return nil, api.ErrNotSupported
}

func isTransientErrno(err error) bool { return false }
