package patricia

import (
	"math/bits"

	"github.com/holiman/uint256"
)

var allOnes = new(uint256.Int).SetAllOne()

// label is a bit string of up to 256 bits stored left-aligned in data. Bits
// past length are always zero.
type label struct {
	data   uint256.Int
	length uint
}

func fullLabel(h [32]byte) label {
	var l label
	l.data.SetBytes32(h[:])
	l.length = 256
	return l
}

// commonPrefix returns the number of leading bits a and b share.
func commonPrefix(a, b label) uint {
	n := a.length
	if b.length < n {
		n = b.length
	}
	diff := new(uint256.Int).Xor(&a.data, &b.data)
	if lz := uint(256 - diff.BitLen()); lz < n {
		return lz
	}
	return n
}

// splitAt cuts l into its first pos bits and the remainder.
func splitAt(l label, pos uint) (prefix, suffix label) {
	mask := new(uint256.Int).Lsh(allOnes, 256-pos)
	prefix.data.And(&l.data, mask)
	prefix.length = pos
	suffix.data.Lsh(&l.data, pos)
	suffix.length = l.length - pos
	return prefix, suffix
}

func splitCommonPrefix(a, b label) (prefix, suffix label) {
	return splitAt(a, commonPrefix(a, b))
}

// chopFirstBit removes the leading bit of l and returns it as head.
func chopFirstBit(l label) (head uint, tail label) {
	if l.data[3]>>63 == 1 {
		head = 1
	}
	tail.data.Lsh(&l.data, 1)
	tail.length = l.length - 1
	return head, tail
}

func removePrefix(l label, n uint) label {
	var out label
	out.data.Lsh(&l.data, n)
	out.length = l.length - n
	return out
}

// lowestBitSet returns the index of the least significant set bit of m,
// which must be non-zero.
func lowestBitSet(m *uint256.Int) uint {
	for i := 0; i < 4; i++ {
		if m[i] != 0 {
			return uint(i*64 + bits.TrailingZeros64(m[i]))
		}
	}
	return 256
}

func popCount(m *uint256.Int) uint {
	var n int
	for i := 0; i < 4; i++ {
		n += bits.OnesCount64(m[i])
	}
	return uint(n)
}
