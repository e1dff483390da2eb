package miner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/metrics"
	"github.com/eth2030/reputation-miner/store"
)

// Recorder keeps the justification tree of one cycle: every captured entry
// is inserted into the tree under its 32-byte index key and persisted in
// the entry store. Entries are never rewritten.
type Recorder struct {
	tree    *lockedTree
	entries store.EntryStore
	metrics *metrics.Metrics
}

// NewRecorder returns a recorder over an empty justification tree.
func NewRecorder(tree Tree, entries store.EntryStore, m *metrics.Metrics) *Recorder {
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Recorder{tree: newLockedTree(tree), entries: entries, metrics: m}
}

// Record adds e to the justification tree and the entry store.
func (r *Recorder) Record(ctx context.Context, e *types.JustificationEntry) error {
	if _, err := r.entries.Get(e.Index); err == nil {
		return errors.Errorf("justification entry %d already recorded", e.Index)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := r.tree.insert(ctx, e.IndexKey(), e.Leaf()); err != nil {
		return err
	}
	if err := r.entries.Put(e); err != nil {
		return errors.Wrapf(err, "store justification entry %d", e.Index)
	}
	r.metrics.JustificationCaptures.Add(1)
	return nil
}

// Entry returns the entry captured for index.
func (r *Recorder) Entry(index uint64) (*types.JustificationEntry, error) {
	e, err := r.entries.Get(index)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrJustificationNotFound, "index %d", index)
	}
	return e, err
}

// Proof returns the justification-tree proof for index.
func (r *Recorder) Proof(ctx context.Context, index uint64) (types.TreeProof, error) {
	mask, siblings, err := r.tree.proof(ctx, types.EncodeIndex(index))
	if errors.Is(err, ErrKeyNotFound) {
		return types.TreeProof{}, errors.Wrapf(ErrJustificationNotFound, "index %d", index)
	}
	if err != nil {
		return types.TreeProof{}, err
	}
	return types.TreeProof{BranchMask: *mask, Siblings: siblings}, nil
}

// RootHash returns the justification root hash (JRH).
func (r *Recorder) RootHash(ctx context.Context) (common.Hash, error) {
	return r.tree.rootHash(ctx)
}

// Len returns the number of captured entries.
func (r *Recorder) Len() int {
	return r.entries.Len()
}

// ImpliedRoot recomputes the justification root from an entry's leaf and
// its proof.
func (r *Recorder) ImpliedRoot(ctx context.Context, e *types.JustificationEntry, p types.TreeProof) (common.Hash, error) {
	return r.tree.impliedRoot(ctx, e.IndexKey(), e.Leaf(), &p.BranchMask, p.Siblings)
}

func (r *Recorder) close() error {
	return r.entries.Close()
}

// proofObject proves key against the current reputation tree. Absent keys
// get the empty proof.
func (m *Miner) proofObject(ctx context.Context, key types.ReputationKey) (types.Proof, error) {
	n := m.state.Len()
	kb := key.Bytes()
	mask, siblings, err := m.tree.proof(ctx, kb)
	if errors.Is(err, ErrKeyNotFound) {
		return types.EmptyProof(kb, n), nil
	}
	if err != nil {
		return types.Proof{}, err
	}
	v, ok := m.state.Get(key)
	if !ok {
		return types.Proof{}, errors.Errorf("key %s in tree but not in local state", key)
	}
	return types.Proof{
		Key:        kb,
		Value:      v.Bytes(),
		BranchMask: *mask,
		Siblings:   siblings,
		NNodes:     n,
	}, nil
}

func (m *Miner) newestProof(ctx context.Context) (types.Proof, error) {
	key, ok := m.state.Newest()
	if !ok {
		return types.EmptyProof(nil, 0), nil
	}
	return m.proofObject(ctx, key)
}

// captureBefore builds the justification entry for update index, which is
// about to touch next, from the state before that update is applied.
func (m *Miner) captureBefore(ctx context.Context, index uint64, next *types.ReputationKey) (*types.JustificationEntry, error) {
	root, err := m.tree.rootHash(ctx)
	if err != nil {
		return nil, err
	}
	n := m.state.Len()

	var justUpdated types.Proof
	switch {
	case index == 0 && next != nil:
		committed, err := m.network.ReputationRootHash(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "read committed root hash")
		}
		committedN, err := m.network.ReputationRootHashNNodes(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "read committed node count")
		}
		if committedN != 0 && committed != root {
			m.log.Desync("local state differs from committed state, adopting committed root",
				"local", root, "committed", committed, "localNodes", n, "committedNodes", committedN)
			m.metrics.StateDesyncs.Add(1)
		}
		root = committed
		justUpdated = types.EmptyProof(nil, n)
	case m.lastKey != nil:
		if justUpdated, err = m.proofObject(ctx, *m.lastKey); err != nil {
			return nil, err
		}
	default:
		justUpdated = types.EmptyProof(nil, n)
	}

	newest, err := m.newestProof(ctx)
	if err != nil {
		return nil, err
	}
	nextUpdate := types.EmptyProof(nil, n)
	if next != nil {
		if nextUpdate, err = m.proofObject(ctx, *next); err != nil {
			return nil, err
		}
	}
	return &types.JustificationEntry{
		Index:                 index,
		InterimHash:           root,
		NNodes:                n,
		JustUpdatedProof:      justUpdated,
		NextUpdateProof:       nextUpdate,
		NewestReputationProof: newest,
	}, nil
}
