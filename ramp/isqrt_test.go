package ramp

import (
	"math"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsqrt(t *testing.T) {
	samples := []uint64{
		0, 1, 2, 3, 4, 5, 15, 16, 17, 99, 100, 101,
		1 << 31, 1<<32 - 1, 1 << 32, 1<<32 + 1,
		2_000_000_000_000_000_000 / 1000,
		2_000_000_000_000_000_000,
		math.MaxUint32 * math.MaxUint32,
		math.MaxUint64 - 1,
		math.MaxUint64,
	}
	for i := uint64(0); i < 2000; i++ {
		samples = append(samples, i*i, i*i+i, i*7919*7919)
	}

	for _, n := range samples {
		r := Isqrt(n)

		hi, lo := bits.Mul64(r, r)
		assert.Truef(t, hi == 0 && lo <= n, "isqrt(%d)=%d: square exceeds n", n, r)

		hi, lo = bits.Mul64(r+1, r+1)
		assert.Truef(t, hi != 0 || lo > n, "isqrt(%d)=%d: not the floor", n, r)
	}
}

func TestIsqrtKnownValues(t *testing.T) {
	assert.Equal(t, uint64(0), Isqrt(0))
	assert.Equal(t, uint64(1), Isqrt(1))
	assert.Equal(t, uint64(1), Isqrt(3))
	assert.Equal(t, uint64(2), Isqrt(4))
	assert.Equal(t, uint64(math.MaxUint32), Isqrt(math.MaxUint64))
}
