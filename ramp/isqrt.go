package ramp

// Isqrt returns floor(sqrt(n)) using the digit-by-digit method.
func Isqrt(n uint64) uint64 {
	var root uint64
	bit := uint64(1) << 62
	for bit > n {
		bit >>= 2
	}

	for bit != 0 {
		if n >= root+bit {
			n -= root + bit
			root = root>>1 + bit
		} else {
			root >>= 1
		}
		bit >>= 2
	}
	return root
}
