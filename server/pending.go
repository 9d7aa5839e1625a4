// File: server/pending.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFO queues backing deferred work: messages sent to clients still in the
// handshake, and functions posted from other goroutines.

package server

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/wsreactor/protocol"
)

type pendingSend struct {
	client *Client
	opcode protocol.Opcode
	data   []byte
}

// pendingQueue holds sends for clients whose handshake has not completed.
// Loop goroutine only.
type pendingQueue struct {
	q *queue.Queue
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{q: queue.New()}
}

func (p *pendingQueue) push(c *Client, op protocol.Opcode, data []byte) {
	p.q.Add(&pendingSend{client: c, opcode: op, data: append([]byte(nil), data...)})
}

func (p *pendingQueue) Len() int {
	return p.q.Length()
}

// flush delivers every entry whose client has completed the handshake, in
// queue order. Entries for clients still handshaking keep their relative
// order at the back of the queue; entries for departed clients are dropped.
func (p *pendingQueue) flush() {
	for n := p.q.Length(); n > 0; n-- {
		ps := p.q.Remove().(*pendingSend)
		c := ps.client
		switch {
		case c.Closing():
		case !c.handshaked:
			p.q.Add(ps)
		default:
			_ = c.deliver(ps.opcode, ps.data)
		}
	}
}

// taskQueue carries functions posted from any goroutine to the loop.
type taskQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

func (t *taskQueue) push(fn func()) {
	t.mu.Lock()
	t.q.Add(fn)
	t.mu.Unlock()
}

// drain removes and returns every queued function.
func (t *taskQueue) drain() []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.q.Length() == 0 {
		return nil
	}
	out := make([]func(), 0, t.q.Length())
	for t.q.Length() > 0 {
		out = append(out, t.q.Remove().(func()))
	}
	return out
}
