// Package crypto holds the hashing primitives shared by the reputation and
// justification trees.
package crypto

import (
	"hash"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var hasherPool = sync.Pool{
	New: func() any { return sha3.NewLegacyKeccak256() },
}

// Keccak256 calculates the Keccak-256 hash of the concatenated data.
func Keccak256(data ...[]byte) []byte {
	h := Keccak256Hash(data...)
	return h[:]
}

// Keccak256Hash calculates Keccak-256 and returns it as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	d := hasherPool.Get().(hash.Hash)
	defer hasherPool.Put(d)
	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	var out common.Hash
	d.Sum(out[:0])
	return out
}

// HashPair returns keccak256(left || right), the hash of a branch node.
func HashPair(left, right common.Hash) common.Hash {
	return Keccak256Hash(left[:], right[:])
}
