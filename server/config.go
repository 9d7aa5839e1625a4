// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"time"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Addr           string        // TCP bind address, e.g. "0.0.0.0:6001"
	MaxBufferSize  int           // bytes requested per socket read
	PingTimeout    time.Duration // idle disconnect threshold, 0 disables
	PollTimeout    time.Duration // upper bound of one readiness wait
	WriteTimeout   time.Duration // how long a full send buffer may stall a write
	MaxMessageSize int64         // frame and reassembled message limit, 0 = unlimited
	FragmentSize   int           // outbound frame payload limit, 0 = never fragment
	MaxEvents      int           // ready descriptors reported per wait

	CloseOnInvalidUTF8 bool // close with 1007 instead of dropping the message
	AcceptUnmasked     bool // tolerate unmasked client frames

	// Handshake is the opening handshake acceptance policy.
	Handshake protocol.Policy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "0.0.0.0:6001",
		MaxBufferSize:  4096,
		PingTimeout:    0,
		PollTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 16 << 20,
		FragmentSize:   0,
		MaxEvents:      256,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr", "must not be empty")
	case c.MaxBufferSize <= 0:
		return invalid("max_buffer_size", "must be positive")
	case c.PollTimeout <= 0:
		return invalid("poll_timeout", "must be positive")
	case c.PingTimeout < 0:
		return invalid("ping_timeout", "must not be negative")
	case c.MaxMessageSize < 0:
		return invalid("max_message_size", "must not be negative")
	case c.FragmentSize < 0:
		return invalid("fragment_size", "must not be negative")
	}
	return nil
}

func invalid(key, msg string) error {
	return api.WrapError(api.ErrCodeInvalidArgument, fmt.Sprintf("config %s %s", key, msg), api.ErrInvalidArgument).
		WithContext("key", key)
}
