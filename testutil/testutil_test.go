package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	rng := NewRNG(42)

	b := rng.Bytes(128)
	assert.Len(t, b, 128)
	assert.NotEqual(t, make([]byte, 128), b)
}

func TestAlignedOffset(t *testing.T) {
	rng := NewRNG(7)

	for i := 0; i < 1000; i++ {
		off := rng.AlignedOffset(4096, 64)
		assert.Zero(t, off%64)
		assert.LessOrEqual(t, off, uint64(4096))
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(42)
	first := rng.Bytes(32)

	rng.Reset()
	assert.Equal(t, first, rng.Bytes(32))
	assert.Equal(t, int64(42), rng.Seed())
}
