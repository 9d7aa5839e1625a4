package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/wsreactor/fake"
	"github.com/momentics/wsreactor/protocol"
	"github.com/momentics/wsreactor/server"
)

var mask = [4]byte{1, 2, 3, 4}

func upgrade(t *testing.T, uri string) []byte {
	t.Helper()
	key, err := protocol.NewClientKey()
	require.NoError(t, err)
	return protocol.BuildRequest(uri, "localhost", key, nil)
}

func sent(c *fake.Conn, frame []byte) func() bool {
	return func() bool { return bytes.Contains(c.SentBytes(), frame) }
}

func TestVersionCommand(t *testing.T) {
	Version = "v1.2.3"
	defer func() { Version = "" }()

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "wsd v1.2.3\n"), out.String())
	assert.Contains(t, out.String(), "go/version")
}

func TestServeRejectsBadConfig(t *testing.T) {
	for _, args := range [][]string{
		{"serve", "--logging-output", "syslog"},
		{"--port", "99999"},
		{"serve", "--config", "/definitely/missing/wsd.yaml"},
	} {
		root := NewRootCommand()
		root.SetArgs(args)
		assert.Error(t, root.Execute(), "%v", args)
	}
}

func TestServeRejectsArguments(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"serve", "extra"})
	assert.Error(t, root.Execute())
}

func TestBroadcasterRelaysWithinURI(t *testing.T) {
	network := fake.NewNetwork()
	cfg := server.DefaultConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	log, _ := logtest.NewNullLogger()
	srv, err := server.New(cfg,
		server.WithListener(network.Listener()),
		server.WithPoller(network.Poller()),
		server.WithLogger(log),
	)
	require.NoError(t, err)
	b := NewBroadcaster(log, time.Hour)
	b.Attach(srv)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	alice, bob, carol := network.Dial(), network.Dial(), network.Dial()
	alice.AddRecvData(upgrade(t, "/room"))
	bob.AddRecvData(upgrade(t, "/room"))
	carol.AddRecvData(upgrade(t, "/lobby"))
	for _, c := range []*fake.Conn{alice, bob, carol} {
		require.Eventually(t, sent(c, []byte("101 Switching Protocols")), 2*time.Second, 5*time.Millisecond)
	}

	alice.AddRecvData(protocol.AppendMaskedFrame(nil, protocol.OpcodeText, []byte("hello room"), true, mask))
	want := protocol.AppendFrame(nil, protocol.OpcodeText, []byte("hello room"), true)
	require.Eventually(t, sent(bob, want), 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, sent(alice, want), 2*time.Second, 5*time.Millisecond)

	srv.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	assert.False(t, bytes.Contains(carol.SentBytes(), want))
	assert.Equal(t, int64(1), b.Messages())
	assert.Equal(t, int64(2), b.Deliveries())
}

func TestBroadcasterReportsOnTick(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	srv, err := server.New(server.DefaultConfig(), server.WithLogger(log))
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	b := NewBroadcaster(log, 10*time.Second)
	b.now = func() time.Time { return now }
	b.lastReport = now

	b.tick(srv)
	assert.Empty(t, hook.AllEntries())

	now = now.Add(10 * time.Second)
	b.tick(srv)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "traffic", entry.Message)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, 0, entry.Data["clients"])

	hook.Reset()
	now = now.Add(time.Second)
	b.tick(srv)
	assert.Empty(t, hook.AllEntries())
}
