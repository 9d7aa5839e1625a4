// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness poller driving the server loop.
//
// On Linux the poller is a level-triggered epoll(7) instance plus an
// eventfd(2) used to interrupt a blocked Wait from another goroutine. Other
// platforms get a stub returning api.ErrNotSupported.
package reactor
