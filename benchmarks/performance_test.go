// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for wsreactor components.

package benchmarks

import (
	"testing"

	"github.com/dustin/go-humanize"

	"github.com/momentics/wsreactor/pool"
	"github.com/momentics/wsreactor/protocol"
)

var benchMask = [4]byte{0x11, 0x22, 0x33, 0x44}

// BenchmarkBytePool measures scratch buffer reuse.
func BenchmarkBytePool(b *testing.B) {
	bp := pool.NewBytePool()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := bp.Get(4096)
			bp.Put(buf)
		}
	})
}

// BenchmarkFrameEncoding measures unmasked server frame encoding.
func BenchmarkFrameEncoding(b *testing.B) {
	payload := make([]byte, 1024)
	dst := make([]byte, 0, 2048)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dst = protocol.AppendFrame(dst[:0], protocol.OpcodeText, payload, true)
	}
}

// BenchmarkFrameDecoding measures unmasking and decoding of client frames.
func BenchmarkFrameDecoding(b *testing.B) {
	for _, size := range []int{64, 1024, 65536} {
		wire := protocol.AppendMaskedFrame(nil, protocol.OpcodeBinary, make([]byte, size), true, benchMask)
		b.Run(humanize.IBytes(uint64(size)), func(b *testing.B) {
			var d protocol.Decoder
			b.SetBytes(int64(size))
			for i := 0; i < b.N; i++ {
				if _, err := d.Feed(wire); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkHandshake measures request parsing and accept key generation.
func BenchmarkHandshake(b *testing.B) {
	req := protocol.BuildRequest("/chat", "localhost:6001", "dGhlIHNhbXBsZSBub25jZQ==", nil)
	n := protocol.NewNegotiator(protocol.Policy{})
	for i := 0; i < b.N; i++ {
		acc, err := n.Negotiate(req)
		if err != nil {
			b.Fatal(err)
		}
		_ = acc.Response()
	}
}
