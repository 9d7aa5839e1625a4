package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/fake"
)

func newFakeServer(t *testing.T) (*Server, *fake.Network) {
	t.Helper()
	network := fake.NewNetwork()
	cfg := DefaultConfig()
	cfg.PollTimeout = 20 * time.Millisecond
	srv, err := New(cfg,
		WithListener(network.Listener()),
		WithPoller(network.Poller()),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	return srv, network
}

func TestRunPostShutdown(t *testing.T) {
	srv, network := newFakeServer(t)

	var events []string
	srv.OnStart(func(*Server) { events = append(events, "start") })
	srv.OnDisconnect(func(*Client) { events = append(events, "disconnect") })
	srv.OnStop(func(*Server) { events = append(events, "stop") })
	connected := make(chan struct{}, 1)
	srv.OnConnect(func(*Client) { connected <- struct{}{} })

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	conn := network.Dial()
	conn.AddRecvData(upgrade(t, "/"))
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("handshake did not complete")
	}

	var ran atomic.Bool
	handshaked := make(chan bool, 1)
	require.NoError(t, srv.Post(func() {
		ran.Store(true)
		for _, c := range srv.Registry().Clients("") {
			handshaked <- c.Handshaked()
		}
	}))
	require.Eventually(t, ran.Load, 2*time.Second, 5*time.Millisecond)

	srv.Shutdown()
	srv.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	assert.True(t, <-handshaked)
	assert.Equal(t, []string{"start", "disconnect", "stop"}, events)
	assert.True(t, conn.Closed())
	assert.ErrorIs(t, srv.Post(func() {}), api.ErrServerClosed)
	assert.Equal(t, "127.0.0.1:6001", srv.Addr())
	assert.Contains(t, string(conn.SentBytes()), "101 Switching Protocols")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv, _ := newFakeServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, srv.Run(ctx), api.ErrAlreadyRunning)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProbes(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("/")
	_, c := h.dial()
	require.NoError(t, c.SendText("queued"))

	state := h.srv.Probes().DumpState()
	assert.Equal(t, 2, state["clients"])
	assert.Equal(t, int64(1), state["pending"])
	assert.Equal(t, "127.0.0.1:6001", state["addr"])
}

// refusingPoller rejects every registration.
type refusingPoller struct{}

func (refusingPoller) Add(int) error { return errors.New("add refused") }
func (refusingPoller) Remove(int) error { return nil }
func (refusingPoller) Wait(time.Duration, []int) (int, error) { return 0, nil }
func (refusingPoller) Wake() error { return nil }
func (refusingPoller) Close() error { return nil }

func TestRunSetupFailureAllowsRetry(t *testing.T) {
	network := fake.NewNetwork()
	srv, err := New(DefaultConfig(),
		WithListener(network.Listener()),
		WithPoller(refusingPoller{}),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, api.ErrAlreadyRunning)
	assert.False(t, srv.running.Load())

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, api.ErrAlreadyRunning)
}
