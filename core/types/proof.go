package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Proof is a Merkle proof of a key/value pair in the reputation tree together
// with the reputation count at the time it was taken.
type Proof struct {
	Key        []byte
	Value      []byte
	BranchMask uint256.Int
	Siblings   []common.Hash
	NNodes     uint64
}

// EmptyProof is the canonical proof for a key absent from the state: zero
// branch mask, no siblings and a zero score/uid value.
func EmptyProof(key []byte, nNodes uint64) Proof {
	return Proof{
		Key:      common.CopyBytes(key),
		Value:    EncodeValue(nil, nil),
		Siblings: []common.Hash{},
		NNodes:   nNodes,
	}
}

// IsEmpty reports whether p carries no path material.
func (p *Proof) IsEmpty() bool {
	return p.BranchMask.IsZero() && len(p.Siblings) == 0
}

// TreeProof is a bare (branch mask, siblings) pair, as produced by the
// justification tree for an index key.
type TreeProof struct {
	BranchMask uint256.Int
	Siblings   []common.Hash
}
