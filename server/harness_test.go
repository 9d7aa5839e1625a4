package server

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/momentics/wsreactor/fake"
	"github.com/momentics/wsreactor/protocol"
)

var clientMask = [4]byte{0xa1, 0xb2, 0xc3, 0xd4}

// harness drives a server over the fake network one loop iteration at a
// time with a manual clock.
type harness struct {
	t   *testing.T
	srv *Server
	net *fake.Network
	now time.Time
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PollTimeout = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{t: t, net: fake.NewNetwork(), now: time.Unix(1_700_000_000, 0)}
	srv, err := New(cfg,
		WithListener(h.net.Listener()),
		WithPoller(h.net.Poller()),
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return h.now }),
	)
	require.NoError(t, err)
	require.NoError(t, srv.setup())
	h.srv = srv
	t.Cleanup(srv.teardown)
	return h
}

func (h *harness) step() {
	h.t.Helper()
	require.NoError(h.t, h.srv.iterate())
}

// dial accepts a new connection without performing the handshake.
func (h *harness) dial() (*fake.Conn, *Client) {
	h.t.Helper()
	conn := h.net.Dial()
	h.step()
	c := h.srv.registry.Find(conn.Fd())
	require.NotNil(h.t, c, "connection was not accepted")
	return conn, c
}

// connect accepts a connection and completes the handshake on uri. The 101
// response is cleared from the recorded writes.
func (h *harness) connect(uri string) (*fake.Conn, *Client) {
	h.t.Helper()
	conn, c := h.dial()
	conn.AddRecvData(upgrade(h.t, uri))
	h.step()
	require.True(h.t, c.Handshaked(), "handshake did not complete")
	conn.ClearSentData()
	return conn, c
}

func upgrade(t *testing.T, uri string) []byte {
	t.Helper()
	key, err := protocol.NewClientKey()
	require.NoError(t, err)
	return protocol.BuildRequest(uri, "localhost:6001", key, nil)
}

func clientFrame(op protocol.Opcode, payload []byte, fin bool) []byte {
	return protocol.AppendMaskedFrame(nil, op, payload, fin, clientMask)
}

// sentFrames decodes everything the server wrote to conn.
func sentFrames(t *testing.T, conn *fake.Conn) []protocol.Frame {
	t.Helper()
	var d protocol.Decoder
	frames, err := d.Feed(conn.SentBytes())
	require.NoError(t, err)
	require.False(t, d.Busy(), "trailing partial frame")
	return frames
}
