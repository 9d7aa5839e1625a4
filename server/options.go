// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger routes server logs to l.
func WithLogger(l logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics records server activity in m instead of a private registry.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithProbes registers the server debug probes on dp.
func WithProbes(dp *control.DebugProbes) ServerOption {
	return func(s *Server) {
		s.probes = dp
	}
}

// WithListener makes Run use l instead of binding Config.Addr.
func WithListener(l api.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// WithPoller makes Run use p instead of the platform poller.
func WithPoller(p api.Poller) ServerOption {
	return func(s *Server) {
		s.poller = p
	}
}

// WithClock overrides the time source used for activity tracking.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}
