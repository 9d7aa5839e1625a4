// File: server/server.go
// Package server implements the single-goroutine WebSocket reactor: one loop
// owns the listening socket, every client socket, the registry and the
// pending-send queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/internal/transport"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/reactor"
)

// Disconnect reasons, used as log fields and metric labels.
const (
	reasonPeerClosed   = "peer_closed"
	reasonPeerClose    = "close_frame"
	reasonLocalClose   = "local_close"
	reasonIOError      = "io_error"
	reasonProtocol     = "protocol_error"
	reasonRejected     = "handshake_rejected"
	reasonIdle         = "idle_timeout"
	reasonShutdown     = "shutdown"
	maxAcceptsPerEvent = 64
)

// Server is the WebSocket reactor.
type Server struct {
	Dispatcher

	cfg        Config
	log        logrus.FieldLogger
	metrics    *control.Metrics
	probes     *control.DebugProbes
	registry   *Registry
	negotiator *protocol.Negotiator
	pendings   *pendingQueue
	tasks      *taskQueue
	now        func() time.Time

	listener api.Listener
	listenFd int
	readBuf  []byte
	ready    []int

	startedAt time.Time
	lastSweep time.Time

	mu       sync.Mutex // guards poller and addr against Shutdown/Post/Addr
	poller   api.Poller
	addr     string
	running  atomic.Bool
	stopping atomic.Bool
	queued   atomic.Int64
}

// New builds a server from cfg. Sockets are created by Run.
func New(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      *cfg,
		registry: NewRegistry(),
		pendings: newPendingQueue(),
		tasks:    newTaskQueue(),
		listenFd: -1,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.metrics == nil {
		s.metrics = control.NewMetrics(control.DefaultNamespace)
	}
	if s.probes == nil {
		s.probes = control.NewDebugProbes()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.negotiator = protocol.NewNegotiator(s.cfg.Handshake)
	s.registerProbes()
	return s, nil
}

func (s *Server) registerProbes() {
	s.probes.RegisterProbe("clients", func() any { return s.registry.Len() })
	s.probes.RegisterProbe("pending", func() any { return s.queued.Load() })
	s.probes.RegisterProbe("addr", func() any { return s.Addr() })
	s.probes.RegisterProbe("running", func() any { return s.running.Load() && !s.stopping.Load() })
}

// Config returns a copy of the server configuration.
func (s *Server) Config() Config { return s.cfg }

// Registry returns the client registry. Loop goroutine only, except Len.
func (s *Server) Registry() *Registry { return s.registry }

// Metrics returns the collectors the server records into.
func (s *Server) Metrics() *control.Metrics { return s.metrics }

// Probes returns the debug probes the server registered on.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Logger returns the server logger.
func (s *Server) Logger() logrus.FieldLogger { return s.log }

// Addr returns the bound listen address once Run has set up the listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run binds the listener and drives the loop until Shutdown is called or ctx
// is cancelled. Setup failures are returned; on a clean stop Run returns nil
// after every client has been disconnected and the stop event has fired.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyRunning
	}
	if err := s.setup(); err != nil {
		s.running.Store(false)
		return api.WrapError(api.ErrCodeSetup, "server setup", err).WithContext("addr", s.cfg.Addr)
	}
	defer s.teardown()

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	s.log.WithFields(logrus.Fields{
		"addr":        s.Addr(),
		"buffer":      humanize.IBytes(uint64(s.cfg.MaxBufferSize)),
		"max_message": humanize.IBytes(uint64(s.cfg.MaxMessageSize)),
		"ping":        s.cfg.PingTimeout,
	}).Info("server started")
	s.fireServer(EventStart, s.onStart)

	for !s.stopping.Load() {
		if err := s.iterate(); err != nil {
			return api.WrapError(api.ErrCodeInternal, "server loop", err)
		}
	}
	return nil
}

// Shutdown asks the loop to stop and interrupts a pending wait. It is safe
// to call from any goroutine, including a signal handler, and more than once.
func (s *Server) Shutdown() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.wake()
}

// Post queues fn to run on the loop goroutine, where it may touch clients
// and the registry.
func (s *Server) Post(fn func()) error {
	if s.stopping.Load() {
		return api.ErrServerClosed
	}
	s.tasks.push(fn)
	s.wake()
	return nil
}

func (s *Server) wake() {
	s.mu.Lock()
	p := s.poller
	s.mu.Unlock()
	if p != nil {
		if err := p.Wake(); err != nil && !errors.Is(err, api.ErrServerClosed) {
			s.log.WithError(err).Warn("poller wake failed")
		}
	}
}

func (s *Server) setup() error {
	if s.listener == nil {
		opts := transport.DefaultOptions()
		opts.WriteTimeout = s.cfg.WriteTimeout
		ln, err := transport.Listen(s.cfg.Addr, opts)
		if err != nil {
			return err
		}
		s.listener = ln
	}
	if s.poller == nil {
		p, err := reactor.New(s.cfg.MaxEvents)
		if err != nil {
			s.listener.Close()
			return err
		}
		s.mu.Lock()
		s.poller = p
		s.mu.Unlock()
	}
	s.listenFd = s.listener.Fd()
	if err := s.poller.Add(s.listenFd); err != nil {
		s.poller.Close()
		s.listener.Close()
		return err
	}

	maxEvents := s.cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = reactor.DefaultMaxEvents
	}
	s.readBuf = make([]byte, s.cfg.MaxBufferSize)
	s.ready = make([]int, maxEvents)
	s.startedAt = s.now()
	s.lastSweep = s.startedAt

	s.mu.Lock()
	s.addr = s.listener.Addr()
	s.mu.Unlock()
	return nil
}

// iterate runs one pass of the loop: reap, run posted tasks, flush pending
// sends, tick, wait for readiness, service ready sockets, sweep idle clients.
func (s *Server) iterate() error {
	s.reap()
	s.runTasks()
	s.flushPendings()
	s.fireServer(EventTick, s.onTick)
	if s.stopping.Load() {
		return nil
	}

	n, err := s.poller.Wait(s.cfg.PollTimeout, s.ready)
	if err != nil {
		return err
	}
	for _, fd := range s.ready[:n] {
		if fd == s.listenFd {
			s.acceptPending()
			continue
		}
		if c := s.registry.Find(fd); c != nil && !c.closed {
			s.handleRead(c)
		}
	}

	now := s.now()
	if n == 0 || now.Sub(s.lastSweep) >= s.cfg.PollTimeout {
		s.sweepIdle(now)
		s.lastSweep = now
	}
	return nil
}

func (s *Server) runTasks() {
	for _, fn := range s.tasks.drain() {
		s.guard(EventTask, fn)
	}
}

func (s *Server) enqueue(c *Client, op protocol.Opcode, data []byte) {
	s.pendings.push(c, op, data)
	s.queued.Store(int64(s.pendings.Len()))
	s.metrics.Pending.Set(float64(s.pendings.Len()))
}

func (s *Server) flushPendings() {
	if s.pendings.Len() == 0 {
		return
	}
	s.pendings.flush()
	s.queued.Store(int64(s.pendings.Len()))
	s.metrics.Pending.Set(float64(s.pendings.Len()))
}

func (s *Server) acceptPending() {
	for i := 0; i < maxAcceptsPerEvent; i++ {
		conn, err := s.listener.Accept()
		if errors.Is(err, api.ErrWouldBlock) {
			return
		}
		if err != nil {
			s.log.WithError(err).Warn("accept failed")
			return
		}
		s.admit(conn)
	}
}

func (s *Server) admit(conn api.Conn) *Client {
	c := newClient(s, conn, s.now())
	if err := s.registry.Register(c); err != nil {
		c.log.WithError(err).Error("register client")
		conn.Close()
		return nil
	}
	if err := s.poller.Add(c.fd); err != nil {
		c.log.WithError(err).Error("watch client socket")
		s.registry.Unregister(c.id)
		conn.Close()
		return nil
	}
	s.metrics.Accepted.Inc()
	s.metrics.Connections.Inc()
	c.log.Debug("client accepted")
	s.fireClient(EventConnecting, s.onConnecting, c)
	return c
}

// handleRead performs one read. Level-triggered readiness brings the client
// back on the next wait if more bytes are queued.
func (s *Server) handleRead(c *Client) {
	n, err := c.conn.Read(s.readBuf)
	switch {
	case errors.Is(err, api.ErrWouldBlock):
		return
	case err != nil:
		if transport.IsTransient(err) {
			c.log.WithError(err).Debug("connection lost")
		} else {
			c.log.WithError(err).Error("unclassified read error")
		}
		s.disconnect(c, reasonIOError)
		return
	case n == 0:
		c.log.Debug("peer closed connection")
		s.disconnect(c, reasonPeerClosed)
		return
	}
	c.lastActivity = s.now()
	s.process(c, s.readBuf[:n])
}

// process feeds freshly read bytes to the handshake negotiator or, once the
// handshake is done, to the frame decoder.
func (s *Server) process(c *Client, data []byte) {
	if !c.handshaked {
		c.inbuf = append(c.inbuf, data...)
		acc, err := s.negotiator.Negotiate(c.inbuf)
		if errors.Is(err, protocol.ErrIncompleteRequest) {
			return
		}
		if err != nil {
			var rej *protocol.Rejection
			if !errors.As(err, &rej) {
				rej = &protocol.Rejection{Status: 400, Reason: err.Error()}
			}
			s.reject(c, rej)
			return
		}
		leftover := c.inbuf[acc.Consumed:]
		c.inbuf = nil
		if !s.completeHandshake(c, acc) || len(leftover) == 0 {
			return
		}
		data = leftover
	}

	frames, err := c.decoder.Feed(data)
	for _, f := range frames {
		if c.Closing() {
			return
		}
		s.handleFrame(c, f)
	}
	if err != nil && !c.Closing() {
		s.protocolError(c, err)
	}
}

func (s *Server) reject(c *Client, rej *protocol.Rejection) {
	c.log.WithFields(logrus.Fields{"status": rej.Status, "reason": rej.Reason}).Warn("handshake rejected")
	s.metrics.HandshakeDone(rej.Status)
	if _, err := c.conn.Write(rej.Response()); err != nil {
		c.log.WithError(err).Debug("write handshake rejection")
	}
	s.disconnect(c, reasonRejected)
}

func (s *Server) completeHandshake(c *Client, acc *protocol.Accept) bool {
	if _, err := c.conn.Write(acc.Response()); err != nil {
		c.fail(err)
		return false
	}
	c.method = acc.Method
	c.uri = acc.URI
	c.header = acc.Header
	c.protocol = acc.Protocol
	c.extension = acc.Extension
	c.handshaked = true
	c.log = c.log.WithField("uri", c.uri)
	s.metrics.HandshakeDone(101)
	c.log.WithField("protocol", c.protocol).Debug("handshake completed")

	// Sends queued before the upgrade go out ahead of anything sent from
	// the connect handler.
	s.flushPendings()
	s.fireClient(EventConnect, s.onConnect, c)
	return !c.Closing()
}

func (s *Server) handleFrame(c *Client, f protocol.Frame) {
	s.metrics.FrameIn(f.Opcode.String(), len(f.Payload))
	msg, done, err := c.assembler.Push(f)
	if err != nil {
		s.protocolError(c, err)
		return
	}
	if !done {
		return
	}

	switch msg.Opcode {
	case protocol.OpcodePing:
		_ = c.writeFrame(protocol.OpcodePong, msg.Payload, true)
	case protocol.OpcodePong:
		// activity already recorded by the read
	case protocol.OpcodeClose:
		s.handleClose(c, msg.Payload)
	case protocol.OpcodeText:
		if !utf8.Valid(msg.Payload) {
			if s.cfg.CloseOnInvalidUTF8 {
				s.protocolError(c, protocol.ErrInvalidUTF8)
			} else {
				c.log.WithField("size", len(msg.Payload)).Warn("dropping text message with invalid UTF-8")
			}
			return
		}
		s.fireMessage(EventReceive, s.onReceive, c, msg.Opcode, msg.Payload)
	case protocol.OpcodeBinary:
		s.fireMessage(EventReceive, s.onReceive, c, msg.Opcode, msg.Payload)
	}
}

// handleClose echoes the peer's close frame and schedules teardown.
func (s *Server) handleClose(c *Client, payload []byte) {
	code, reason, err := protocol.ParseClosePayload(payload)
	if err != nil {
		s.protocolError(c, err)
		return
	}
	c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Debug("close frame received")
	if code == protocol.CloseNoStatusRcvd {
		code = protocol.CloseNormalClosure
	}
	_ = c.sendClose(code, "")
	c.markClosing(reasonPeerClose)
}

func (s *Server) protocolError(c *Client, err error) {
	code := protocol.CloseCodeFor(err)
	c.log.WithError(err).WithField("code", code).Warn("protocol violation")
	_ = c.sendClose(code, "")
	c.markClosing(reasonProtocol)
}

// reap tears down clients scheduled for closing.
func (s *Server) reap() {
	for _, c := range s.registry.Clients("") {
		if c.closing {
			s.disconnect(c, c.closeReason)
		}
	}
}

// sweepIdle disconnects clients silent for longer than the ping timeout and
// fires the idle event for the rest.
func (s *Server) sweepIdle(now time.Time) {
	for _, c := range s.registry.Clients("") {
		if c.Closing() {
			continue
		}
		if s.cfg.PingTimeout > 0 && now.Sub(c.lastActivity) > s.cfg.PingTimeout {
			c.log.WithField("idle", now.Sub(c.lastActivity)).Info("idle timeout")
			_ = c.sendClose(protocol.CloseGoingAway, "idle timeout")
			s.disconnect(c, reasonIdle)
			continue
		}
		s.fireClient(EventIdle, s.onIdle, c)
	}
}

// disconnect fires the disconnect event, releases the socket, unregisters
// the client and fires the closed event.
func (s *Server) disconnect(c *Client, reason string) {
	if c.detaching || c.closed {
		return
	}
	c.detaching = true
	s.fireClient(EventDisconnect, s.onDisconnect, c)

	if err := s.poller.Remove(c.fd); err != nil {
		c.log.WithError(err).Warn("unwatch client socket")
	}
	if err := c.conn.Close(); err != nil {
		c.log.WithError(err).Debug("close client socket")
	}
	c.closed = true
	s.registry.Unregister(c.id)
	s.metrics.Disconnected(reason)
	c.log.WithField("reason", reason).Debug("client disconnected")
	s.fireClient(EventClosed, s.onClosed, c)
}

func (s *Server) teardown() {
	for _, c := range s.registry.Clients("") {
		_ = c.sendClose(protocol.CloseGoingAway, "server shutdown")
		s.disconnect(c, reasonShutdown)
	}
	s.fireServer(EventStop, s.onStop)

	if err := s.listener.Close(); err != nil {
		s.log.WithError(err).Warn("close listener")
	}
	s.mu.Lock()
	p := s.poller
	s.poller = nil
	s.mu.Unlock()
	if err := p.Close(); err != nil {
		s.log.WithError(err).Warn("close poller")
	}
	s.log.WithField("uptime", s.now().Sub(s.startedAt).Round(time.Millisecond)).Info("server stopped")
}

// String is used in logs and panics.
func (s *Server) String() string {
	return fmt.Sprintf("wsreactor server %s", s.Addr())
}
