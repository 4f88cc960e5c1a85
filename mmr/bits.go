package mmr

import "math/bits"

// BitLength64 returns the number of bits required to represent num.
func BitLength64(num uint64) uint64 { return uint64(bits.Len64(num)) }

// AllOnes reports whether num, in binary, is all one bits (2^k - 1 for some k >= 1).
func AllOnes(num uint64) bool {
	return num != 0 && (uint64(1)<<bits.OnesCount64(num))-1 == num
}
