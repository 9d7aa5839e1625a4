// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory reuse for the I/O path. BytePool hands out byte slices grouped in
// power-of-two size classes so frame encoding and socket reads do not
// allocate per message. See bytepool.go and objpool.go.
package pool
