package types

import "github.com/ethereum/go-ethereum/common"

// JustificationEntry records the interim state before the update at Index
// is applied, plus the proofs needed to answer a challenge about it.
//
// JustUpdatedProof proves the key touched by Index-1, NextUpdateProof the key
// about to be touched by Index and NewestReputationProof the highest-uid key
// as of Index. The sentinel entry at the total update count has an empty
// NextUpdateProof.
type JustificationEntry struct {
	Index                 uint64
	InterimHash           common.Hash
	NNodes                uint64
	JustUpdatedProof      Proof
	NextUpdateProof       Proof
	NewestReputationProof Proof
}

// Leaf returns the value stored for this entry in the justification tree.
func (e *JustificationEntry) Leaf() []byte {
	return EncodeJustificationLeaf(e.InterimHash, e.NNodes)
}

// IndexKey returns the justification-tree key of the entry.
func (e *JustificationEntry) IndexKey() []byte {
	return EncodeIndex(e.Index)
}
