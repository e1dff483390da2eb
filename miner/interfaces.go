package miner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/store"
)

// Tree is an authenticated key-value store. Proof must return an error
// matching ErrKeyNotFound for keys that were never inserted.
type Tree interface {
	Insert(ctx context.Context, key, value []byte) error
	RootHash(ctx context.Context) (common.Hash, error)
	Proof(ctx context.Context, key []byte) (*uint256.Int, []common.Hash, error)
	ImpliedRoot(ctx context.Context, key, value []byte, branchMask *uint256.Int, siblings []common.Hash) (common.Hash, error)
}

// TreeFactory creates an empty tree. The miner asks for one reputation tree
// per state rebuild and one justification tree per cycle.
type TreeFactory func(ctx context.Context) (Tree, error)

// StoreFactory opens the justification entry store for a mining cycle.
type StoreFactory func(cycle common.Address) (store.EntryStore, error)

// SkillGraph answers skill-hierarchy queries.
type SkillGraph interface {
	Skill(ctx context.Context, id *uint256.Int) (types.Skill, error)
	ChildSkillID(ctx context.Context, id *uint256.Int, idx uint64) (*uint256.Int, error)
	ParentSkillID(ctx context.Context, id *uint256.Int, idx uint64) (*uint256.Int, error)
}

// Network is the colony network: it points at the active mining cycle,
// holds the last accepted reputation root and owns the skill graph.
type Network interface {
	SkillGraph
	ActiveCycle(ctx context.Context) (MiningCycle, error)
	ReputationRootHash(ctx context.Context) (common.Hash, error)
	ReputationRootHashNNodes(ctx context.Context) (uint64, error)
}

// LogSource reads the append-only reputation update log.
type LogSource interface {
	UpdateLogLength(ctx context.Context) (uint64, error)
	UpdateLogEntry(ctx context.Context, i uint64) (*types.UpdateLogEntry, error)
}

// MiningCycle is one reputation mining cycle: its update log and the
// verifier side of the dispute protocol.
type MiningCycle interface {
	LogSource

	Address() common.Address

	SubmitRootHash(ctx context.Context, hash common.Hash, nNodes uint64, entryIndex uint64) error
	SubmitJustificationRootHash(ctx context.Context, round, index uint64, jrh common.Hash, first, last types.TreeProof) error
	RespondToBinarySearchForChallenge(ctx context.Context, round, index uint64, leaf []byte, proof types.TreeProof) error
	RespondToChallenge(ctx context.Context, resp *types.ChallengeResponse) error

	// DisputeRound returns the submission in slot (round, index), or false if
	// the slot does not exist.
	DisputeRound(ctx context.Context, round, index uint64) (*types.Submission, bool, error)
}
