// File: server/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lifecycle callbacks. Each event has exactly one handler; registering again
// replaces it. Handlers run synchronously on the loop goroutine, so a slow
// handler stalls every connection.

package server

import (
	"fmt"
	"runtime/debug"

	"github.com/momentics/wsreactor/protocol"
)

// Event names a lifecycle callback.
type Event string

const (
	EventStart      Event = "start"
	EventStop       Event = "stop"
	EventConnecting Event = "connecting"
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
	EventClosed     Event = "closed"
	EventIdle       Event = "idle"
	EventReceive    Event = "receive"
	EventSend       Event = "send"
	EventTick       Event = "tick"
	EventCrash      Event = "crash"
	EventTask       Event = "task"
)

// PanicError is handed to the crash handler when a callback panics.
type PanicError struct {
	Event Event
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s callback: %v", e.Event, e.Value)
}

// Unwrap returns the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Dispatcher maps lifecycle events to handlers. Missing handlers are no-ops.
// Handlers must be set before Run or from the loop goroutine (see Post).
type Dispatcher struct {
	onStart      func(*Server)
	onStop       func(*Server)
	onTick       func(*Server)
	onCrash      func(*Server, error)
	onConnecting func(*Client)
	onConnect    func(*Client)
	onDisconnect func(*Client)
	onClosed     func(*Client)
	onIdle       func(*Client)
	onReceive    func(*Client, protocol.Opcode, []byte)
	onSend       func(*Client, protocol.Opcode, []byte)
}

// OnStart runs once the listener is bound, before the first wait.
func (d *Dispatcher) OnStart(fn func(*Server)) { d.onStart = fn }

// OnStop runs after every client has been disconnected during shutdown.
func (d *Dispatcher) OnStop(fn func(*Server)) { d.onStop = fn }

// OnTick runs on every loop iteration before the readiness wait.
func (d *Dispatcher) OnTick(fn func(*Server)) { d.onTick = fn }

// OnCrash receives errors recovered from panicking handlers.
func (d *Dispatcher) OnCrash(fn func(*Server, error)) { d.onCrash = fn }

// OnConnecting runs when a connection is accepted, before the handshake.
func (d *Dispatcher) OnConnecting(fn func(*Client)) { d.onConnecting = fn }

// OnConnect runs when the handshake completes.
func (d *Dispatcher) OnConnect(fn func(*Client)) { d.onConnect = fn }

// OnDisconnect runs when a client is about to be removed. Its socket is
// still open.
func (d *Dispatcher) OnDisconnect(fn func(*Client)) { d.onDisconnect = fn }

// OnClosed runs after the client socket has been closed and unregistered.
func (d *Dispatcher) OnClosed(fn func(*Client)) { d.onClosed = fn }

// OnIdle runs for each client when the loop wakes up without I/O.
func (d *Dispatcher) OnIdle(fn func(*Client)) { d.onIdle = fn }

// OnReceive gets every complete text or binary message.
func (d *Dispatcher) OnReceive(fn func(*Client, protocol.Opcode, []byte)) { d.onReceive = fn }

// OnSend runs after an application message has been written.
func (d *Dispatcher) OnSend(fn func(*Client, protocol.Opcode, []byte)) { d.onSend = fn }

// guard runs fn and converts a panic into a crash notification.
func (s *Server) guard(ev Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Event: ev, Value: r, Stack: debug.Stack()}
			s.log.WithField("event", string(ev)).WithError(perr).Error("callback panic recovered")
			s.metrics.Panics.WithLabelValues(string(ev)).Inc()
			s.crash(perr)
		}
	}()
	fn()
}

func (s *Server) crash(err error) {
	if s.onCrash == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("crash handler panicked")
			s.metrics.Panics.WithLabelValues(string(EventCrash)).Inc()
		}
	}()
	s.onCrash(s, err)
}

func (s *Server) fireServer(ev Event, fn func(*Server)) {
	if fn != nil {
		s.guard(ev, func() { fn(s) })
	}
}

func (s *Server) fireClient(ev Event, fn func(*Client), c *Client) {
	if fn != nil {
		s.guard(ev, func() { fn(c) })
	}
}

func (s *Server) fireMessage(ev Event, fn func(*Client, protocol.Opcode, []byte), c *Client, op protocol.Opcode, data []byte) {
	if fn != nil {
		s.guard(ev, func() { fn(c, op, data) })
	}
}
