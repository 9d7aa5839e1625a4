// File: server/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client is the server-side state of one connection: handshake progress,
// the incremental frame decoder, fragment reassembly and outbound framing.
// All methods must be called from the loop goroutine, which is where every
// callback runs.

package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/internal/transport"
	"github.com/momentics/wsreactor/pool"
	"github.com/momentics/wsreactor/protocol"
)

// ErrHandshakePending is returned by operations that need a completed
// handshake.
var ErrHandshakePending = errors.New("handshake not completed")

// Client represents one accepted connection.
type Client struct {
	srv    *Server
	conn   api.Conn
	fd     int
	id     string
	remote string
	log    logrus.FieldLogger

	method    string
	uri       string
	header    http.Header
	protocol  string
	extension string

	handshaked   bool
	connectedAt  time.Time
	lastActivity time.Time

	// handshake bytes accumulated until the header terminator arrives
	inbuf     []byte
	decoder   protocol.Decoder
	assembler protocol.Assembler

	// outContinues is set while a message streamed with SendFragment is open.
	outContinues bool
	outOpcode    protocol.Opcode

	closeSent   bool
	closing     bool
	closeReason string
	detaching   bool
	closed      bool
}

func newClient(s *Server, conn api.Conn, now time.Time) *Client {
	c := &Client{
		srv:          s,
		conn:         conn,
		fd:           conn.Fd(),
		id:           uuid.NewString(),
		remote:       conn.RemoteAddr(),
		connectedAt:  now,
		lastActivity: now,
		decoder: protocol.Decoder{
			MaxPayload:  s.cfg.MaxMessageSize,
			RequireMask: !s.cfg.AcceptUnmasked,
		},
		assembler: protocol.Assembler{MaxSize: s.cfg.MaxMessageSize},
	}
	c.log = s.log.WithFields(logrus.Fields{"client": c.id, "remote": c.remote})
	return c
}

// ID returns the random identifier assigned at accept time.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string { return c.remote }

// Method returns the request method of the opening handshake.
func (c *Client) Method() string { return c.method }

// URI returns the request target of the opening handshake.
func (c *Client) URI() string { return c.uri }

// Header returns the handshake request headers, nil before the handshake.
func (c *Client) Header() http.Header { return c.header }

// Protocol returns the negotiated sub-protocol, if any.
func (c *Client) Protocol() string { return c.protocol }

// Extension returns the negotiated extension, if any.
func (c *Client) Extension() string { return c.extension }

// Handshaked reports whether the opening handshake completed.
func (c *Client) Handshaked() bool { return c.handshaked }

// ConnectedAt returns the accept time.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// LastActivity returns when bytes were last received from the peer.
func (c *Client) LastActivity() time.Time { return c.lastActivity }

// Server returns the owning server.
func (c *Client) Server() *Server { return c.srv }

// Closing reports whether the client is scheduled for teardown.
func (c *Client) Closing() bool { return c.closing || c.detaching || c.closed }

// Send writes a text or binary message. Before the handshake completes the
// message is queued and flushed in order once it does.
func (c *Client) Send(opcode protocol.Opcode, data []byte) error {
	if !opcode.IsData() || opcode == protocol.OpcodeContinuation {
		return fmt.Errorf("send opcode %s: %w", opcode, api.ErrInvalidArgument)
	}
	if c.closed || c.closing {
		return api.ErrClientClosed
	}
	if !c.handshaked {
		c.srv.enqueue(c, opcode, data)
		return nil
	}
	if c.outContinues {
		return protocol.ErrFragmentInProgress
	}
	return c.deliver(opcode, data)
}

// SendText sends a UTF-8 text message.
func (c *Client) SendText(s string) error {
	return c.Send(protocol.OpcodeText, []byte(s))
}

// SendBinary sends a binary message.
func (c *Client) SendBinary(b []byte) error {
	return c.Send(protocol.OpcodeBinary, b)
}

// SendFragment streams one piece of a message. The first call carries
// opcode and opens the message; following calls go out as continuation
// frames, and the call with last set closes it.
func (c *Client) SendFragment(opcode protocol.Opcode, data []byte, last bool) error {
	if c.closed || c.closing {
		return api.ErrClientClosed
	}
	if !c.handshaked {
		return ErrHandshakePending
	}
	op := opcode
	if c.outContinues {
		op = protocol.OpcodeContinuation
	} else if !opcode.IsData() || opcode == protocol.OpcodeContinuation {
		return fmt.Errorf("send opcode %s: %w", opcode, api.ErrInvalidArgument)
	}
	frame := protocol.EncodeFrame(data, op, !last)
	if err := c.writeRaw(frame, op, len(data)); err != nil {
		return err
	}
	if !c.outContinues {
		c.outOpcode = opcode
	}
	c.outContinues = !last
	if last {
		c.srv.fireMessage(EventSend, c.srv.onSend, c, c.outOpcode, data)
	}
	return nil
}

// Ping sends a ping control frame.
func (c *Client) Ping(payload []byte) error {
	if len(payload) > protocol.MaxControlPayloadLen {
		return protocol.ErrControlTooLong
	}
	if c.closed || c.closing {
		return api.ErrClientClosed
	}
	if !c.handshaked {
		return ErrHandshakePending
	}
	return c.writeFrame(protocol.OpcodePing, payload, true)
}

// Close sends a close frame (once, and only after the handshake) and
// schedules the connection for teardown on the next loop iteration.
func (c *Client) Close(code uint16, reason string) error {
	if c.closed {
		return api.ErrClientClosed
	}
	err := c.sendClose(code, reason)
	c.markClosing(reasonLocalClose)
	return err
}

// deliver writes a complete application message, fragmenting it when
// FragmentSize is set, and fires the send event.
func (c *Client) deliver(opcode protocol.Opcode, data []byte) error {
	size := c.srv.cfg.FragmentSize
	if size <= 0 || len(data) <= size {
		if err := c.writeFrame(opcode, data, true); err != nil {
			return err
		}
	} else {
		for off := 0; off < len(data); off += size {
			end := off + size
			if end > len(data) {
				end = len(data)
			}
			op := opcode
			if off > 0 {
				op = protocol.OpcodeContinuation
			}
			if err := c.writeFrame(op, data[off:end], end == len(data)); err != nil {
				return err
			}
		}
	}
	c.srv.fireMessage(EventSend, c.srv.onSend, c, opcode, data)
	return nil
}

func (c *Client) sendClose(code uint16, reason string) error {
	if c.closeSent || !c.handshaked || c.closed {
		return nil
	}
	c.closeSent = true
	return c.writeFrame(protocol.OpcodeClose, protocol.ClosePayload(code, reason), true)
}

// writeFrame encodes one unmasked frame into a pooled buffer and writes it.
func (c *Client) writeFrame(opcode protocol.Opcode, payload []byte, fin bool) error {
	bp := pool.Default()
	buf := bp.Get(len(payload) + protocol.MaxFrameHeaderLen)
	buf = protocol.AppendFrame(buf, opcode, payload, fin)
	err := c.writeRaw(buf, opcode, len(payload))
	bp.Put(buf)
	return err
}

func (c *Client) writeRaw(frame []byte, opcode protocol.Opcode, payloadLen int) error {
	if _, err := c.conn.Write(frame); err != nil {
		c.fail(err)
		return fmt.Errorf("client %s write: %w", c.id, err)
	}
	c.srv.metrics.FrameOut(opcode.String(), payloadLen)
	return nil
}

// fail schedules teardown after an I/O error.
func (c *Client) fail(err error) {
	if transport.IsTransient(err) {
		c.log.WithError(err).Debug("connection lost")
	} else {
		c.log.WithError(err).Error("unclassified socket error")
	}
	c.markClosing(reasonIOError)
}

func (c *Client) markClosing(reason string) {
	if c.closing {
		return
	}
	c.closing = true
	c.closeReason = reason
}
