package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/wsreactor/pool"
)

func TestBytePoolCapacity(t *testing.T) {
	bp := pool.NewBytePool()
	for _, n := range []int{0, 1, 512, 513, 4096, 70000, 4 << 20} {
		b := bp.Get(n)
		assert.Zero(t, len(b), "n=%d", n)
		assert.GreaterOrEqual(t, cap(b), n, "n=%d", n)
		bp.Put(b)
	}
}

func TestBytePoolOversize(t *testing.T) {
	bp := pool.NewBytePool()
	b := bp.Get(5 << 20)
	assert.Equal(t, 5<<20, cap(b))
	bp.Put(b) // dropped, must not panic
}

func TestBytePoolIgnoresForeignSlices(t *testing.T) {
	bp := pool.NewBytePool()
	bp.Put(make([]byte, 0, 1000))
	bp.Put(nil)
	b := bp.Get(600)
	assert.Equal(t, 1024, cap(b))
}

func TestDefaultIsShared(t *testing.T) {
	assert.Same(t, pool.Default(), pool.Default())
}
