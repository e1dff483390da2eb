// Package geth converts between the miner's domain types and the values
// go-ethereum's ABI codec produces and consumes. The chain package is its
// only caller; everything else works in core/types.
package geth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
)

// ErrOverflow is returned when an ABI integer does not fit the domain type.
var ErrOverflow = errors.New("geth: integer overflow")

// --- Integer conversion ---

// ToUint256 converts an ABI uint256 to *uint256.Int. Negative or oversized
// values are rejected.
func ToUint256(b *big.Int) (*uint256.Int, error) {
	if b == nil {
		return new(uint256.Int), nil
	}
	if b.Sign() < 0 {
		return nil, errors.Wrapf(ErrOverflow, "negative value %s", b)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errors.Wrapf(ErrOverflow, "%s exceeds 256 bits", b)
	}
	return u, nil
}

// FromUint256 converts *uint256.Int to *big.Int.
func FromUint256(u *uint256.Int) *big.Int {
	if u == nil {
		return new(big.Int)
	}
	return u.ToBig()
}

// ToUint64 converts an ABI uint256 that the protocol treats as a count or
// index.
func ToUint64(b *big.Int) (uint64, error) {
	if b == nil {
		return 0, nil
	}
	if b.Sign() < 0 || !b.IsUint64() {
		return 0, errors.Wrapf(ErrOverflow, "%s is not a uint64", b)
	}
	return b.Uint64(), nil
}

// FromUint64 converts a count or index to an ABI uint256.
func FromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// --- Hash conversion ---

// ToBytes32s converts sibling hashes to the [][32]byte form bytes32[]
// arguments expect. A nil slice becomes an empty one.
func ToBytes32s(hs []common.Hash) [][32]byte {
	out := make([][32]byte, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

// FromBytes32s converts a decoded bytes32[] to hashes.
func FromBytes32s(bs [][32]byte) []common.Hash {
	out := make([]common.Hash, len(bs))
	for i, b := range bs {
		out[i] = common.Hash(b)
	}
	return out
}

// --- Proof conversion ---

// ToProofArgs splits a proof into its (branchMask, siblings) ABI arguments.
func ToProofArgs(p types.TreeProof) (*big.Int, [][32]byte) {
	return FromUint256(&p.BranchMask), ToBytes32s(p.Siblings)
}

// FromProofArgs rebuilds a proof from decoded (branchMask, siblings) outputs.
func FromProofArgs(mask *big.Int, siblings [][32]byte) (types.TreeProof, error) {
	m, err := ToUint256(mask)
	if err != nil {
		return types.TreeProof{}, errors.Wrap(err, "branch mask")
	}
	return types.TreeProof{BranchMask: *m, Siblings: FromBytes32s(siblings)}, nil
}

// --- Log entry conversion ---

// FromLogEntry assembles an update log entry from the verifier's flattened
// (user, amount, skillId, colony, nUpdates, nPreviousUpdates) getter output.
func FromLogEntry(user common.Address, amount, skill *big.Int, colony common.Address, nUpdates, nPrevious *big.Int) (*types.UpdateLogEntry, error) {
	id, err := ToUint256(skill)
	if err != nil {
		return nil, errors.Wrap(err, "skill id")
	}
	n, err := ToUint64(nUpdates)
	if err != nil {
		return nil, errors.Wrap(err, "nUpdates")
	}
	prev, err := ToUint64(nPrevious)
	if err != nil {
		return nil, errors.Wrap(err, "nPreviousUpdates")
	}
	if amount == nil {
		amount = new(big.Int)
	}
	return &types.UpdateLogEntry{
		User:             user,
		Amount:           new(big.Int).Set(amount),
		Skill:            *id,
		Colony:           colony,
		NUpdates:         n,
		NPreviousUpdates: prev,
	}, nil
}
