// File: client/client.go
// Package client provides a small blocking RFC6455 client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client dials over plain TCP (ws:// URL or bare host:port), performs the
// opening handshake and exchanges masked frames. Pings are answered
// automatically and a received close frame is echoed before Recv reports it.

package client

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/momentics/wsreactor/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("client: connection closed")

// CloseError reports a close frame received from the server.
type CloseError struct {
	Code   uint16
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("client: closed by peer: %d %s", e.Code, e.Reason)
}

// Config holds all configurable parameters for the client.
type Config struct {
	Header         http.Header   // extra handshake headers, e.g. Origin
	DialTimeout    time.Duration // per attempt
	ReadTimeout    time.Duration // 0 = no deadline
	WriteTimeout   time.Duration // 0 = no deadline
	ReconnectMax   int           // extra dial attempts after the first
	MaxMessageSize int64         // 0 = unlimited
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:    5 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 16 << 20,
	}
}

// Conn is an established client connection. Send may be used from any
// goroutine; Recv must be called from one goroutine at a time.
type Conn struct {
	cfg  Config
	conn net.Conn
	r    *bufio.Reader
	resp *http.Response

	dec     protocol.Decoder
	asm     protocol.Assembler
	pending []protocol.Frame
	readBuf []byte

	wmu       sync.Mutex
	closeSent bool
}

// Dial connects to addr and completes the opening handshake. Failed attempts
// are retried up to cfg.ReconnectMax times with a linear backoff.
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	host, path, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.ReconnectMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		c, err := dialOnce(ctx, host, path, cfg)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	if cfg.ReconnectMax > 0 {
		return nil, fmt.Errorf("max reconnect attempts reached: %w", lastErr)
	}
	return nil, lastErr
}

func splitAddr(addr string) (host, path string, err error) {
	if !strings.Contains(addr, "://") {
		return addr, "/", nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "ws" {
		return "", "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	host = u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	return host, u.RequestURI(), nil
}

func dialOnce(ctx context.Context, host, path string, cfg Config) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}
	if cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	}
	if cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}

	key, err := protocol.NewClientKey()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(protocol.BuildRequest(path, host, key, cfg.Header)); err != nil {
		conn.Close()
		return nil, err
	}
	r := bufio.NewReader(conn)
	resp, err := protocol.ReadResponse(r, key)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Conn{
		cfg:     cfg,
		conn:    conn,
		r:       r,
		resp:    resp,
		asm:     protocol.Assembler{MaxSize: cfg.MaxMessageSize},
		dec:     protocol.Decoder{MaxPayload: cfg.MaxMessageSize},
		readBuf: make([]byte, 4096),
	}, nil
}

// Protocol returns the subprotocol selected by the server, if any.
func (c *Conn) Protocol() string {
	return c.resp.Header.Get(protocol.HeaderSecWebSocketProto)
}

// Response returns the server's handshake response.
func (c *Conn) Response() *http.Response { return c.resp }

// Send writes one complete data message.
func (c *Conn) Send(op protocol.Opcode, data []byte) error {
	if !op.IsData() || op == protocol.OpcodeContinuation {
		return fmt.Errorf("client: opcode %s is not a message opcode", op)
	}
	return c.write(op, data)
}

// SendText sends a text message.
func (c *Conn) SendText(s string) error {
	return c.Send(protocol.OpcodeText, []byte(s))
}

// Ping sends a ping control frame.
func (c *Conn) Ping(payload []byte) error {
	if len(payload) > protocol.MaxControlPayloadLen {
		return protocol.ErrControlTooLong
	}
	return c.write(protocol.OpcodePing, payload)
}

func (c *Conn) write(op protocol.Opcode, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closeSent {
		return ErrClosed
	}
	if op == protocol.OpcodeClose {
		c.closeSent = true
	}

	var mask [4]byte
	if _, err := io.ReadFull(rand.Reader, mask[:]); err != nil {
		return err
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	_, err := c.conn.Write(protocol.AppendMaskedFrame(nil, op, payload, true, mask))
	return err
}

// Recv returns the next complete text or binary message. Control frames are
// handled internally; a close frame yields a *CloseError.
func (c *Conn) Recv() (protocol.Message, error) {
	for {
		f, err := c.next()
		if err != nil {
			return protocol.Message{}, err
		}
		switch f.Opcode {
		case protocol.OpcodePing:
			if err := c.write(protocol.OpcodePong, f.Payload); err != nil && !errors.Is(err, ErrClosed) {
				return protocol.Message{}, err
			}
			continue
		case protocol.OpcodePong:
			continue
		case protocol.OpcodeClose:
			code, reason, _ := protocol.ParseClosePayload(f.Payload)
			echo := code
			if echo == protocol.CloseNoStatusRcvd {
				echo = protocol.CloseNormalClosure
			}
			_ = c.write(protocol.OpcodeClose, protocol.ClosePayload(echo, ""))
			return protocol.Message{}, &CloseError{Code: code, Reason: reason}
		}
		msg, done, err := c.asm.Push(f)
		if err != nil {
			return protocol.Message{}, err
		}
		if done {
			return msg, nil
		}
	}
}

func (c *Conn) next() (protocol.Frame, error) {
	for len(c.pending) == 0 {
		if c.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		n, err := c.r.Read(c.readBuf)
		if n > 0 {
			frames, ferr := c.dec.Feed(c.readBuf[:n])
			c.pending = append(c.pending, frames...)
			if ferr != nil {
				return protocol.Frame{}, ferr
			}
		}
		if err != nil && len(c.pending) == 0 {
			return protocol.Frame{}, err
		}
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

// Close sends a close frame with code and reason, then closes the socket.
// It is idempotent.
func (c *Conn) Close(code uint16, reason string) error {
	err := c.write(protocol.OpcodeClose, protocol.ClosePayload(code, reason))
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	if cerr := c.conn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}
