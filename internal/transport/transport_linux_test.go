//go:build linux
// +build linux

package transport_test

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/internal/transport"
)

func acceptOne(t *testing.T, ln api.Listener) api.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := ln.Accept()
		if err == nil {
			return c
		}
		require.ErrorIs(t, err, api.ErrWouldBlock)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return nil
}

func TestListenAcceptReadWrite(t *testing.T) {
	ln, err := transport.Listen("127.0.0.1:0", transport.DefaultOptions())
	require.NoError(t, err)
	defer ln.Close()

	_, err = ln.Accept()
	assert.ErrorIs(t, err, api.ErrWouldBlock)

	peer, err := net.Dial("tcp", ln.Addr())
	require.NoError(t, err)
	defer peer.Close()

	conn := acceptOne(t, ln)
	defer conn.Close()
	assert.Equal(t, peer.LocalAddr().String(), conn.RemoteAddr())

	buf := make([]byte, 64)
	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, api.ErrWouldBlock)

	_, err = peer.Write([]byte("ping"))
	require.NoError(t, err)
	var n int
	require.Eventually(t, func() bool {
		n, err = conn.Read(buf)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", string(buf[:n]))

	n, err = conn.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	got := make([]byte, 4)
	_, err = io.ReadFull(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool {
		n, err = conn.Read(buf)
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, api.ErrClientClosed)
}

func TestListenBindFailure(t *testing.T) {
	ln, err := transport.Listen("127.0.0.1:0", transport.DefaultOptions())
	require.NoError(t, err)
	defer ln.Close()

	_, err = transport.Listen(ln.Addr(), transport.DefaultOptions())
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, transport.IsTransient(fmt.Errorf("read: %w", unix.ECONNRESET)))
	assert.True(t, transport.IsTransient(fmt.Errorf("write: %w", unix.EPIPE)))
	assert.True(t, transport.IsTransient(api.ErrClientClosed))
	assert.True(t, transport.IsTransient(io.EOF))
	assert.False(t, transport.IsTransient(fmt.Errorf("read: %w", unix.EBADF)))
	assert.False(t, transport.IsTransient(nil))
}
