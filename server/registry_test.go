package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/fake"
	"github.com/momentics/wsreactor/protocol"
)

func TestRegistryOperations(t *testing.T) {
	h := newHarness(t, nil)
	r := NewRegistry()

	a := newClient(h.srv, fake.NewConn(10, "a"), h.now)
	b := newClient(h.srv, fake.NewConn(11, "b"), h.now)
	c := newClient(h.srv, fake.NewConn(12, "c"), h.now)
	for _, x := range []*Client{a, b, c} {
		require.NoError(t, r.Register(x))
	}
	assert.ErrorIs(t, r.Register(newClient(h.srv, fake.NewConn(11, "dup"), h.now)), api.ErrInvalidArgument)

	assert.Equal(t, 3, r.Len())
	assert.Same(t, b, r.Find(11))
	assert.Same(t, c, r.Get(c.ID()))
	assert.Nil(t, r.Find(99))

	got, ok := r.Unregister(b.ID())
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = r.Unregister(b.ID())
	assert.False(t, ok)

	assert.Equal(t, []*Client{a, c}, r.Clients(""))
	assert.Nil(t, r.Find(11))
	assert.Equal(t, 2, r.Len())
}

func TestBroadcastHandshakedInOrder(t *testing.T) {
	h := newHarness(t, nil)
	var order []string
	h.srv.OnSend(func(c *Client, op protocol.Opcode, data []byte) { order = append(order, c.ID()) })

	conns := make([]*fake.Conn, 0, 3)
	var want []string
	for i := 0; i < 3; i++ {
		conn, c := h.connect("/room")
		conns = append(conns, conn)
		want = append(want, c.ID())
	}
	pendingConn, _ := h.dial() // still handshaking, must be skipped

	n := h.srv.Registry().Broadcast(protocol.OpcodeText, []byte("hi"))
	assert.Equal(t, 3, n)
	assert.Equal(t, want, order)
	for _, conn := range conns {
		frames := sentFrames(t, conn)
		require.Len(t, frames, 1)
		assert.Equal(t, "hi", string(frames[0].Payload))
	}
	assert.Empty(t, pendingConn.SentBytes())
}

func TestBroadcastSurvivesFailingClient(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.connect("/")
	b, _ := h.connect("/")
	c, _ := h.connect("/")
	b.SetWriteError(api.ErrClientClosed)

	n := h.srv.Registry().Broadcast(protocol.OpcodeBinary, []byte{1, 2, 3})
	assert.Equal(t, 2, n)
	assert.Len(t, sentFrames(t, a), 1)
	assert.Len(t, sentFrames(t, c), 1)
}

func TestBroadcastURI(t *testing.T) {
	h := newHarness(t, nil)
	lobby, _ := h.connect("/lobby")
	game, _ := h.connect("/game")
	lobby2, _ := h.connect("/lobby")

	assert.Len(t, h.srv.Registry().Clients("/lobby"), 2)
	n := h.srv.Registry().BroadcastURI("/lobby", protocol.OpcodeText, []byte("x"))
	assert.Equal(t, 2, n)
	assert.Len(t, sentFrames(t, lobby), 1)
	assert.Len(t, sentFrames(t, lobby2), 1)
	assert.Empty(t, game.SentBytes())
}
