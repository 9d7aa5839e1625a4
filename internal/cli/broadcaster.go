// File: internal/cli/broadcaster.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulbellamy/ratecounter"
	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/server"
)

// Broadcaster is the wsd application: every message a client sends is
// re-sent to all clients on the same URI. All methods run on the reactor
// goroutine.
type Broadcaster struct {
	log      logrus.FieldLogger
	rate     *ratecounter.RateCounter
	interval time.Duration
	now      func() time.Time

	lastReport time.Time
	messages   int64
	bytes      uint64
	deliveries int64
}

// NewBroadcaster returns a broadcaster reporting its rate every interval.
func NewBroadcaster(log logrus.FieldLogger, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		log:      log,
		rate:     ratecounter.NewRateCounter(time.Second),
		interval: interval,
		now:      time.Now,
	}
}

// Attach installs the broadcaster's handlers on srv.
func (b *Broadcaster) Attach(srv *server.Server) {
	srv.OnStart(func(*server.Server) { b.lastReport = b.now() })
	srv.OnConnect(b.connected)
	srv.OnDisconnect(b.disconnected)
	srv.OnReceive(b.receive)
	srv.OnTick(b.tick)
	srv.OnCrash(func(_ *server.Server, err error) {
		b.log.WithError(err).Error("handler crashed")
	})
	srv.OnStop(func(*server.Server) {
		b.log.WithFields(logrus.Fields{
			"messages":   b.messages,
			"bytes":      humanize.Bytes(b.bytes),
			"deliveries": b.deliveries,
		}).Info("broadcaster stopped")
	})
}

func (b *Broadcaster) connected(c *server.Client) {
	b.log.WithFields(logrus.Fields{
		"client":   c.ID(),
		"remote":   c.RemoteAddr(),
		"uri":      c.URI(),
		"protocol": c.Protocol(),
	}).Info("client connected")
}

func (b *Broadcaster) disconnected(c *server.Client) {
	b.log.WithFields(logrus.Fields{
		"client": c.ID(),
		"uri":    c.URI(),
	}).Info("client disconnected")
}

func (b *Broadcaster) receive(c *server.Client, op protocol.Opcode, data []byte) {
	b.rate.Incr(1)
	b.messages++
	b.bytes += uint64(len(data))
	n := c.Server().Registry().BroadcastURI(c.URI(), op, data)
	b.deliveries += int64(n)
	b.log.WithFields(logrus.Fields{
		"client":     c.ID(),
		"uri":        c.URI(),
		"opcode":     op,
		"size":       len(data),
		"recipients": n,
	}).Debug("message broadcast")
}

func (b *Broadcaster) tick(s *server.Server) {
	now := b.now()
	if now.Sub(b.lastReport) < b.interval {
		return
	}
	b.lastReport = now
	b.log.WithFields(logrus.Fields{
		"rate":     b.rate.Rate(),
		"messages": b.messages,
		"bytes":    humanize.Bytes(b.bytes),
		"clients":  s.Registry().Len(),
	}).Info("traffic")
}

// Messages is the number of messages received so far.
func (b *Broadcaster) Messages() int64 { return b.messages }

// Deliveries counts successful sends made while broadcasting.
func (b *Broadcaster) Deliveries() int64 { return b.deliveries }
