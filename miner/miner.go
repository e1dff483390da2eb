// Package miner replays a mining cycle's reputation update log into an
// authenticated reputation tree and records the justification tree needed
// to defend the resulting root in a dispute.
package miner

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/log"
	"github.com/eth2030/reputation-miner/metrics"
	"github.com/eth2030/reputation-miner/store"
)

// Config configures a Miner. Network is required; every other field has a
// usable zero value.
type Config struct {
	Network Network

	// NewTree creates the reputation tree and each cycle's justification
	// tree. Defaults to in-process Patricia trees.
	NewTree TreeFactory
	// NewStore opens a cycle's justification entry store. Defaults to memory.
	NewStore StoreFactory

	Strategy  ScoreStrategy
	Decay     *DecayRate
	CacheSize int

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Miner owns the local reputation state and one mining cycle at a time.
// Mutating operations are serialized; accessors may run concurrently with
// each other.
type Miner struct {
	network  Network
	newTree  TreeFactory
	newStore StoreFactory
	strategy ScoreStrategy
	decay    *DecayRate
	cacheSz  int
	log      *log.Logger
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	tree  *lockedTree
	state *ReputationState

	// per-cycle
	cycle    MiningCycle
	res      *resolver
	recorder *Recorder
	nBefore  uint64
	total    uint64
	lastKey  *types.ReputationKey
	replayed bool

	lastReplayed common.Address
	checkpoint   *ReputationState
	abandoned    bool
}

// New creates a miner with an empty reputation state.
func New(ctx context.Context, cfg Config) (*Miner, error) {
	if cfg.Network == nil {
		return nil, errors.New("miner: nil network")
	}
	m := &Miner{
		network:  cfg.Network,
		newTree:  cfg.NewTree,
		newStore: cfg.NewStore,
		strategy: cfg.Strategy,
		decay:    cfg.Decay,
		cacheSz:  cfg.CacheSize,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		state:    NewReputationState(),
	}
	if m.newTree == nil {
		m.newTree = LocalTreeFactory
	}
	if m.newStore == nil {
		m.newStore = func(common.Address) (store.EntryStore, error) { return store.NewMemoryStore(), nil }
	}
	if m.strategy == nil {
		m.strategy = PassThrough{}
	}
	if m.decay == nil {
		m.decay = &DefaultDecayRate
	}
	if m.log == nil {
		m.log = log.Default().Module("miner")
	}
	if m.metrics == nil {
		m.metrics = metrics.NopMetrics()
	}
	t, err := m.newTree(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create reputation tree")
	}
	m.tree = newLockedTree(t)
	return m, nil
}

// BeginCycle binds the miner to the network's active mining cycle and opens
// a fresh justification tree for it.
func (m *Miner) BeginCycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.abandoned {
		return ErrCycleAbandoned
	}
	cycle, err := m.network.ActiveCycle(ctx)
	if err != nil {
		return errors.Wrap(err, "read active mining cycle")
	}
	if m.lastReplayed != (common.Address{}) && cycle.Address() == m.lastReplayed {
		return errors.Wrapf(ErrAlreadyReplayed, "cycle %s", cycle.Address())
	}
	res, err := newResolver(ctx, m.network, cycle, m.cacheSz)
	if err != nil {
		return err
	}
	jt, err := m.newTree(ctx)
	if err != nil {
		return errors.Wrap(err, "create justification tree")
	}
	entries, err := m.newStore(cycle.Address())
	if err != nil {
		return errors.Wrapf(err, "open justification store for %s", cycle.Address())
	}
	if err := entries.Reset(); err != nil {
		entries.Close()
		return errors.Wrap(err, "reset justification store")
	}
	m.closeRecorder()

	m.cycle = cycle
	m.res = res
	m.recorder = NewRecorder(jt, entries, m.metrics)
	m.nBefore = m.state.Len()
	m.total = 0
	m.lastKey = nil
	m.replayed = false
	m.log.Info("mining cycle started", "cycle", cycle.Address(), "logLength", res.length, "reputations", m.nBefore)
	return nil
}

func (m *Miner) closeRecorder() {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.close(); err != nil {
		m.log.Warn("closing justification store", "err", err)
	}
	m.recorder = nil
}

// Insert applies delta to key outside any replay, for seeding state from a
// trusted snapshot.
func (m *Miner) Insert(ctx context.Context, key types.ReputationKey, delta *big.Int) (types.ReputationValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.abandoned {
		return types.ReputationValue{}, ErrCycleAbandoned
	}
	return m.insert(ctx, key, delta)
}

// Abandon discards the current cycle and rebuilds the reputation tree from
// the state checkpointed when the failed replay started.
func (m *Miner) Abandon(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.checkpoint
	if base == nil {
		base = m.state
	}
	t, err := m.newTree(ctx)
	if err != nil {
		return errors.Wrap(err, "create reputation tree")
	}
	tree := newLockedTree(t)
	for _, k := range base.order {
		v, _ := base.Get(k)
		if err := tree.insert(ctx, k.Bytes(), v.Bytes()); err != nil {
			return errors.Wrap(err, "rebuild reputation tree")
		}
	}
	if m.recorder != nil {
		if err := m.recorder.entries.Reset(); err != nil {
			m.log.Warn("dropping justification entries", "err", err)
		}
	}
	m.closeRecorder()

	m.tree = tree
	m.state = base.clone()
	m.checkpoint = nil
	m.cycle = nil
	m.res = nil
	m.total = 0
	m.lastKey = nil
	m.replayed = false
	m.abandoned = false
	m.metrics.Reputations.Set(float64(m.state.Len()))
	m.log.Info("cycle abandoned, state restored", "reputations", m.state.Len())
	return nil
}

func (m *Miner) checkCycle() error {
	switch {
	case m.abandoned:
		return ErrCycleAbandoned
	case m.cycle == nil:
		return ErrNoCycle
	}
	return nil
}

func (m *Miner) checkReplayed() error {
	if err := m.checkCycle(); err != nil {
		return err
	}
	if !m.replayed {
		return ErrNotReplayed
	}
	return nil
}

// Cycle returns the mining cycle in progress, or nil.
func (m *Miner) Cycle() MiningCycle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cycle
}

// Network returns the colony network the miner reads from.
func (m *Miner) Network() Network {
	return m.network
}

// RootHash returns the current reputation root hash.
func (m *Miner) RootHash(ctx context.Context) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.rootHash(ctx)
}

// NReputations returns the number of distinct reputations.
func (m *Miner) NReputations() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Len()
}

// NReputationsBeforeLog returns the reputation count at cycle start, which is
// also the number of decay updates in the cycle.
func (m *Miner) NReputationsBeforeLog() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nBefore
}

// TotalUpdates returns the number of logical updates of the replayed cycle.
func (m *Miner) TotalUpdates() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Reputation returns the local value stored for key.
func (m *Miner) Reputation(key types.ReputationKey) (types.ReputationValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Get(key)
}

// Keys returns every reputation key in insertion order.
func (m *Miner) Keys() []types.ReputationKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Keys()
}

// ReputationProof proves key against the current reputation root.
func (m *Miner) ReputationProof(ctx context.Context, key types.ReputationKey) (types.Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proofObject(ctx, key)
}

// Entry returns the justification entry captured for index.
func (m *Miner) Entry(index uint64) (*types.JustificationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReplayed(); err != nil {
		return nil, err
	}
	return m.recorder.Entry(index)
}

// JustificationRootHash returns the cycle's justification root hash.
func (m *Miner) JustificationRootHash(ctx context.Context) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReplayed(); err != nil {
		return common.Hash{}, err
	}
	return m.recorder.RootHash(ctx)
}

// JustificationProof returns the justification-tree proof for index.
func (m *Miner) JustificationProof(ctx context.Context, index uint64) (types.TreeProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReplayed(); err != nil {
		return types.TreeProof{}, err
	}
	return m.recorder.Proof(ctx, index)
}

// KeyForUpdate returns the reputation key logical update index touches.
func (m *Miner) KeyForUpdate(ctx context.Context, index uint64) (types.ReputationKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkCycle(); err != nil {
		return types.ReputationKey{}, err
	}
	return m.keyFor(ctx, index)
}

// LogEntryForUpdate returns the index of the log entry that implies logical
// update index, or 0 for a decay update.
func (m *Miner) LogEntryForUpdate(ctx context.Context, index uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkCycle(); err != nil {
		return 0, err
	}
	if index < m.nBefore {
		return 0, nil
	}
	n, _, err := m.res.resolveLogEntry(ctx, index-m.nBefore)
	return n, err
}

// VerifyProofs checks that every reputation's proof implies the current
// root.
func (m *Miner) VerifyProofs(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	root, err := m.tree.rootHash(ctx)
	if err != nil {
		return err
	}
	for _, k := range m.state.order {
		p, err := m.proofObject(ctx, k)
		if err != nil {
			return err
		}
		implied, err := m.tree.impliedRoot(ctx, p.Key, p.Value, &p.BranchMask, p.Siblings)
		if err != nil {
			return errors.Wrapf(err, "implied root for %s", k)
		}
		if implied != root {
			return errors.Errorf("proof for %s implies %s, root is %s", k, implied, root)
		}
	}
	return nil
}
