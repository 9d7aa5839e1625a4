// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux non-blocking TCP listener and connections over raw descriptors.

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/wsreactor/api"
)

var transientErrnos = []unix.Errno{
	unix.ECONNRESET,
	unix.EPIPE,
	unix.ETIMEDOUT,
	unix.ECONNABORTED,
	unix.ENOTCONN,
	unix.ENETRESET,
	unix.EHOSTUNREACH,
	unix.ENETUNREACH,
	unix.ESHUTDOWN,
}

func isTransientErrno(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, e := range transientErrnos {
		if errno == e {
			return true
		}
	}
	return false
}

type linuxListener struct {
	fd   int
	addr string
	opts Options
}

// Listen creates a non-blocking TCP listening socket bound to addr
// ("host:port"). An empty host binds every IPv4 interface.
func Listen(addr string, opts Options) (api.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	sa, family := toSockaddr(tcpAddr)

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &linuxListener{fd: fd, addr: sockaddrString(bound), opts: opts}, nil
}

func toSockaddr(a *net.TCPAddr) (unix.Sockaddr, int) {
	if a.IP == nil || a.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if a.IP != nil {
			copy(sa.Addr[:], a.IP.To4())
		}
		return sa, unix.AF_INET
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return sa, unix.AF_INET6
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	}
	return "unknown"
}

// Accept takes one pending connection off the queue.
func (l *linuxListener) Accept() (api.Conn, error) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return nil, api.ErrWouldBlock
		default:
			return nil, fmt.Errorf("accept: %w", err)
		}
		if l.opts.NoDelay {
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}
		return &linuxConn{fd: nfd, remote: sockaddrString(sa), writeTimeout: l.opts.WriteTimeout}, nil
	}
}

func (l *linuxListener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

func (l *linuxListener) Fd() int      { return l.fd }
func (l *linuxListener) Addr() string { return l.addr }

// linuxConn is one accepted socket. It is owned by the reactor goroutine and
// is not safe for concurrent use.
type linuxConn struct {
	fd           int
	remote       string
	writeTimeout time.Duration
}

// Read performs one non-blocking read.
func (c *linuxConn) Read(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, api.ErrClientClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, api.ErrWouldBlock
		default:
			return 0, fmt.Errorf("read %s: %w", c.remote, err)
		}
	}
}

// Write sends all of p. When the kernel send buffer is full it waits for
// writability, up to the write timeout per stall.
func (c *linuxConn) Write(p []byte) (int, error) {
	if c.fd < 0 {
		return 0, api.ErrClientClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch err {
		case nil:
		case unix.EINTR:
		case unix.EAGAIN:
			if werr := c.waitWritable(); werr != nil {
				return written, werr
			}
		default:
			return written, fmt.Errorf("write %s: %w", c.remote, err)
		}
	}
	return written, nil
}

func (c *linuxConn) waitWritable() error {
	timeout := -1
	if c.writeTimeout > 0 {
		timeout = int(c.writeTimeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(fds, timeout)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return fmt.Errorf("poll %s: %w", c.remote, err)
		case n == 0:
			return fmt.Errorf("write %s: %w", c.remote, unix.ETIMEDOUT)
		}
		return nil
	}
}

// Close closes the descriptor. Further calls are no-ops.
func (c *linuxConn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func (c *linuxConn) Fd() int            { return c.fd }
func (c *linuxConn) RemoteAddr() string { return c.remote }
