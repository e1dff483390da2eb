package store

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
)

type rlpProof struct {
	Key        []byte
	Value      []byte
	BranchMask []byte
	Siblings   []common.Hash
	NNodes     uint64
}

type rlpEntry struct {
	Index       uint64
	InterimHash common.Hash
	NNodes      uint64
	JustUpdated rlpProof
	NextUpdate  rlpProof
	Newest      rlpProof
}

func toRLPProof(p *types.Proof) rlpProof {
	mask := p.BranchMask.Bytes32()
	return rlpProof{
		Key:        p.Key,
		Value:      p.Value,
		BranchMask: mask[:],
		Siblings:   p.Siblings,
		NNodes:     p.NNodes,
	}
}

func fromRLPProof(r *rlpProof) types.Proof {
	p := types.Proof{
		Key:      r.Key,
		Value:    r.Value,
		Siblings: r.Siblings,
		NNodes:   r.NNodes,
	}
	if len(p.Key) == 0 {
		p.Key = nil
	}
	if p.Siblings == nil {
		p.Siblings = []common.Hash{}
	}
	p.BranchMask.SetBytes(r.BranchMask)
	return p
}

// EncodeEntry serialises a justification entry with RLP.
func EncodeEntry(e *types.JustificationEntry) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(&rlpEntry{
		Index:       e.Index,
		InterimHash: e.InterimHash,
		NNodes:      e.NNodes,
		JustUpdated: toRLPProof(&e.JustUpdatedProof),
		NextUpdate:  toRLPProof(&e.NextUpdateProof),
		Newest:      toRLPProof(&e.NewestReputationProof),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "encode entry %d", e.Index)
	}
	return enc, nil
}

// DecodeEntry is the inverse of EncodeEntry.
func DecodeEntry(b []byte) (*types.JustificationEntry, error) {
	var r rlpEntry
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return nil, errors.Wrap(err, "decode entry")
	}
	return &types.JustificationEntry{
		Index:                 r.Index,
		InterimHash:           r.InterimHash,
		NNodes:                r.NNodes,
		JustUpdatedProof:      fromRLPProof(&r.JustUpdated),
		NextUpdateProof:       fromRLPProof(&r.NextUpdate),
		NewestReputationProof: fromRLPProof(&r.Newest),
	}, nil
}
