package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/geth"
	"github.com/eth2030/reputation-miner/log"
	"github.com/eth2030/reputation-miner/miner"
)

// Cycle is a ReputationMiningCycle contract.
type Cycle struct {
	c *contract
}

var _ miner.MiningCycle = (*Cycle)(nil)

// NewCycle binds the mining cycle at address.
func NewCycle(address common.Address, backend Backend, opts *bind.TransactOpts, logger *log.Logger) *Cycle {
	if logger == nil {
		logger = log.Default().Module("chain")
	}
	return &Cycle{c: newContract(address, miningCycleABIParsed, backend, opts, logger)}
}

// Address returns the mining cycle contract address.
func (c *Cycle) Address() common.Address { return c.c.address }

// UpdateLogLength returns the number of entries in the cycle's update log.
func (c *Cycle) UpdateLogLength(ctx context.Context) (uint64, error) {
	out, err := c.c.call(ctx, "getReputationUpdateLogLength")
	if err != nil {
		return 0, err
	}
	v, err := outAt[*big.Int](out, 0)
	if err != nil {
		return 0, err
	}
	return geth.ToUint64(v)
}

// UpdateLogEntry reads log entry i.
func (c *Cycle) UpdateLogEntry(ctx context.Context, i uint64) (*types.UpdateLogEntry, error) {
	out, err := c.c.call(ctx, "getReputationUpdateLogEntry", geth.FromUint64(i))
	if err != nil {
		return nil, err
	}
	user, err := outAt[common.Address](out, 0)
	if err != nil {
		return nil, err
	}
	colony, err := outAt[common.Address](out, 3)
	if err != nil {
		return nil, err
	}
	var ints [4]*big.Int
	for j, pos := range []int{1, 2, 4, 5} {
		if ints[j], err = outAt[*big.Int](out, pos); err != nil {
			return nil, err
		}
	}
	e, err := geth.FromLogEntry(user, ints[0], ints[1], colony, ints[2], ints[3])
	return e, errors.Wrapf(err, "log entry %d", i)
}

// SubmitRootHash submits the proposed reputation root with its node count
// and staking entry index.
func (c *Cycle) SubmitRootHash(ctx context.Context, hash common.Hash, nNodes uint64, entryIndex uint64) error {
	return c.c.transact(ctx, "submitRootHash", [32]byte(hash), geth.FromUint64(nNodes), geth.FromUint64(entryIndex))
}

// SubmitJustificationRootHash submits the justification root with the
// proofs of its first and last leaves for the slot at (round, index).
func (c *Cycle) SubmitJustificationRootHash(ctx context.Context, round, index uint64, jrh common.Hash, first, last types.TreeProof) error {
	mask1, sib1 := geth.ToProofArgs(first)
	mask2, sib2 := geth.ToProofArgs(last)
	return c.c.transact(ctx, "submitJustificationRootHash",
		geth.FromUint64(round), geth.FromUint64(index), [32]byte(jrh), mask1, sib1, mask2, sib2)
}

// RespondToBinarySearchForChallenge sends the justification leaf and proof
// for the current midpoint of the slot's search window.
func (c *Cycle) RespondToBinarySearchForChallenge(ctx context.Context, round, index uint64, leaf []byte, proof types.TreeProof) error {
	mask, siblings := geth.ToProofArgs(proof)
	return c.c.transact(ctx, "respondToBinarySearchForChallenge",
		geth.FromUint64(round), geth.FromUint64(index), leaf, mask, siblings)
}

// RespondToChallenge sends the challenge bundle as one respondToChallenge
// transaction.
func (c *Cycle) RespondToChallenge(ctx context.Context, resp *types.ChallengeResponse) error {
	return c.c.transact(ctx, "respondToChallenge", challengeArgs(resp)...)
}

// challengeArgs flattens a challenge response into respondToChallenge's
// argument list.
func challengeArgs(r *types.ChallengeResponse) []any {
	u := [11]*big.Int{
		geth.FromUint64(r.Round),
		geth.FromUint64(r.Index),
		geth.FromUint256(&r.DisagreeState.BranchMask),
		geth.FromUint64(r.AgreeState.NNodes),
		geth.FromUint256(&r.AgreeStateJRHProof.BranchMask),
		geth.FromUint64(r.DisagreeState.NNodes),
		geth.FromUint256(&r.DisagreeStateJRHProof.BranchMask),
		geth.FromUint256(&r.Newest.BranchMask),
		new(big.Int),
		geth.FromUint64(r.LogEntryIndex),
		new(big.Int),
	}
	return []any{
		u,
		r.ReputationKey,
		geth.ToBytes32s(r.DisagreeState.Siblings),
		r.AgreeState.Value,
		geth.ToBytes32s(r.AgreeStateJRHProof.Siblings),
		r.DisagreeState.Value,
		geth.ToBytes32s(r.DisagreeStateJRHProof.Siblings),
		r.Newest.Key,
		r.Newest.Value,
		geth.ToBytes32s(r.Newest.Siblings),
	}
}

// DisputeRound reads slot (round, index). Reading past the end of a round
// reverts, which is reported as an absent slot.
func (c *Cycle) DisputeRound(ctx context.Context, round, index uint64) (*types.Submission, bool, error) {
	out, err := c.c.call(ctx, "getDisputeRounds", geth.FromUint64(round), geth.FromUint64(index))
	if isRevert(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	sub, err := decodeSubmission(out)
	if err != nil {
		return nil, false, errors.Wrapf(err, "dispute round (%d, %d)", round, index)
	}
	return sub, true, nil
}

func decodeSubmission(out []any) (*types.Submission, error) {
	var hashes [3][32]byte
	for i, pos := range []int{0, 4, 5} {
		h, err := outAt[[32]byte](out, pos)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	var nums [7]uint64
	for i, pos := range []int{1, 2, 3, 6, 7, 8, 9} {
		v, err := outAt[*big.Int](out, pos)
		if err != nil {
			return nil, err
		}
		if nums[i], err = geth.ToUint64(v); err != nil {
			return nil, err
		}
	}
	return &types.Submission{
		ProposedRootHash:           hashes[0],
		NNodes:                     nums[0],
		LastResponseTimestamp:      nums[1],
		ChallengeStepCompleted:     nums[2],
		JRH:                        hashes[1],
		IntermediateReputationHash: hashes[2],
		IntermediateNNodes:         nums[3],
		JRHNNodes:                  nums[4],
		LowerBound:                 nums[5],
		UpperBound:                 nums[6],
	}, nil
}
