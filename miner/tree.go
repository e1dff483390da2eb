package miner

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/trie/patricia"
)

// LocalTree adapts the in-process Patricia tree to Tree.
type LocalTree struct {
	t *patricia.Tree
}

// NewLocalTree returns an empty in-process tree.
func NewLocalTree() *LocalTree {
	return &LocalTree{t: patricia.New()}
}

// LocalTreeFactory is a TreeFactory producing in-process trees.
func LocalTreeFactory(context.Context) (Tree, error) {
	return NewLocalTree(), nil
}

func (l *LocalTree) Insert(_ context.Context, key, value []byte) error {
	l.t.Insert(key, value)
	return nil
}

func (l *LocalTree) RootHash(context.Context) (common.Hash, error) {
	return l.t.RootHash(), nil
}

func (l *LocalTree) Proof(_ context.Context, key []byte) (*uint256.Int, []common.Hash, error) {
	mask, siblings, err := l.t.Proof(key)
	if errors.Is(err, patricia.ErrKeyNotFound) {
		return nil, nil, ErrKeyNotFound
	}
	return mask, siblings, err
}

func (l *LocalTree) ImpliedRoot(_ context.Context, key, value []byte, branchMask *uint256.Int, siblings []common.Hash) (common.Hash, error) {
	return patricia.ImpliedRoot(key, value, branchMask, siblings)
}

// lockedTree is the single-writer handle every tree is accessed through.
// Inserts are exclusive; proofs and root reads may run together.
type lockedTree struct {
	mu   sync.RWMutex
	tree Tree
}

func newLockedTree(t Tree) *lockedTree {
	return &lockedTree{tree: t}
}

func (l *lockedTree) insert(ctx context.Context, key, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.tree.Insert(ctx, key, value); err != nil {
		return errors.Wrapf(ErrTreeWrite, "insert %x: %v", key, err)
	}
	return nil
}

func (l *lockedTree) rootHash(ctx context.Context) (common.Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, err := l.tree.RootHash(ctx)
	return h, errors.Wrap(err, "read root hash")
}

// proof returns (nil, nil, ErrKeyNotFound) for absent keys, unwrapped, so
// callers can map it to the empty proof.
func (l *lockedTree) proof(ctx context.Context, key []byte) (*uint256.Int, []common.Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mask, siblings, err := l.tree.Proof(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil, ErrKeyNotFound
		}
		return nil, nil, errors.Wrapf(err, "proof for %x", key)
	}
	return mask, siblings, nil
}

func (l *lockedTree) impliedRoot(ctx context.Context, key, value []byte, mask *uint256.Int, siblings []common.Hash) (common.Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.ImpliedRoot(ctx, key, value, mask, siblings)
}
