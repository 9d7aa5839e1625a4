// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "math/bits"

const (
	minClassShift = 9  // 512 B
	maxClassShift = 22 // 4 MiB
)

// BytePool recycles byte slices by capacity class. Requests above the
// largest class are served by plain allocation and dropped on Put.
type BytePool struct {
	classes [maxClassShift - minClassShift + 1]*SyncPool[*[]byte]
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	bp := &BytePool{}
	for i := range bp.classes {
		size := 1 << (minClassShift + i)
		bp.classes[i] = NewSyncPool(func() *[]byte {
			b := make([]byte, 0, size)
			return &b
		})
	}
	return bp
}

// classFor returns the index of the smallest class holding n bytes, or -1.
func classFor(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// Get returns a zero-length slice with capacity of at least n.
func (bp *BytePool) Get(n int) []byte {
	idx := classFor(n)
	if idx < 0 {
		return make([]byte, 0, n)
	}
	return (*bp.classes[idx].Get())[:0]
}

// Put returns b to the pool. Slices whose capacity is not exactly a class
// size were not produced by Get and are left to the GC.
func (bp *BytePool) Put(b []byte) {
	c := cap(b)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	idx := classFor(c)
	if idx < 0 || 1<<(minClassShift+idx) != c {
		return
	}
	b = b[:0]
	bp.classes[idx].Put(&b)
}
