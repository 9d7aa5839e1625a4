// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket wire protocol (RFC 6455) for wsreactor.
//
// Everything here is decoupled from socket I/O so it can be driven by the
// reactor one read at a time and tested without real connections.
//
// Includes:
//   - Frame header parsing and encoding for all three length tiers
//   - An incremental Decoder that retains partial frames across reads
//   - Fragment reassembly for continuation frames
//   - Close payload helpers
//   - The HTTP Upgrade negotiator with host/origin/protocol/extension policy
package protocol
