package miner

import (
	"context"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
)

// ReplayAll applies every logical update of the current cycle in order,
// decays first and then the log-derived updates, capturing a justification
// entry before each one and a final sentinel entry at TotalUpdates.
//
// A failed replay abandons the cycle; call Abandon to restore the state the
// replay started from.
func (m *Miner) ReplayAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCycle(); err != nil {
		return err
	}
	if m.replayed {
		return errors.Wrapf(ErrAlreadyReplayed, "cycle %s", m.cycle.Address())
	}

	start := time.Now()
	m.checkpoint = m.state.clone()
	if err := m.replay(ctx); err != nil {
		m.abandoned = true
		m.log.Error("replay failed, cycle abandoned", "cycle", m.cycle.Address(), "err", err)
		return err
	}
	m.replayed = true
	m.lastReplayed = m.cycle.Address()
	m.metrics.ReplaySeconds.Observe(time.Since(start).Seconds())

	root, _ := m.tree.rootHash(ctx)
	m.log.Info("cycle replayed", "cycle", m.cycle.Address(), "updates", m.total,
		"reputations", m.state.Len(), "root", root)
	return nil
}

func (m *Miner) replay(ctx context.Context) error {
	logUpdates, err := m.res.logUpdates(ctx)
	if err != nil {
		return err
	}
	m.total = m.nBefore + logUpdates
	m.metrics.TotalUpdates.Set(float64(m.total))

	for i := uint64(0); i < m.total; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "replay interrupted at update %d", i)
		}
		if err := m.applyUpdate(ctx, i); err != nil {
			return errors.Wrapf(err, "update %d", i)
		}
	}
	return m.captureSentinel(ctx)
}

func (m *Miner) applyUpdate(ctx context.Context, i uint64) error {
	key, amount, err := m.updateFor(ctx, i)
	if err != nil {
		return err
	}
	entry, err := m.captureBefore(ctx, i, &key)
	if err != nil {
		return err
	}
	if err := m.recorder.Record(ctx, entry); err != nil {
		return err
	}
	if _, err := m.insert(ctx, key, amount); err != nil {
		return err
	}
	m.lastKey = &key
	if i < m.nBefore {
		m.metrics.DecayUpdates.Add(1)
	} else {
		m.metrics.LogUpdates.Add(1)
	}
	return nil
}

// captureSentinel records the post-state at index TotalUpdates. It has no
// next update.
func (m *Miner) captureSentinel(ctx context.Context) error {
	entry, err := m.captureBefore(ctx, m.total, nil)
	if err != nil {
		return err
	}
	return m.recorder.Record(ctx, entry)
}

// updateFor resolves update i to its key and the score change to apply.
func (m *Miner) updateFor(ctx context.Context, i uint64) (types.ReputationKey, *big.Int, error) {
	if i < m.nBefore {
		key, _ := m.state.KeyAt(i)
		v, _ := m.state.Get(key)
		return key, m.strategy.Score(i, m.decay.Delta(&v.Score)), nil
	}
	_, e, err := m.res.resolveLogEntry(ctx, i-m.nBefore)
	if err != nil {
		return types.ReputationKey{}, nil, err
	}
	score := m.strategy.Score(i, ScoreFromLogEntry(e))
	key, err := m.res.keyInLogEntry(ctx, e, i-m.nBefore-e.NPreviousUpdates, score)
	return key, score, err
}

func (m *Miner) keyFor(ctx context.Context, i uint64) (types.ReputationKey, error) {
	if i < m.nBefore {
		key, ok := m.state.KeyAt(i)
		if !ok {
			return types.ReputationKey{}, errors.Errorf("no reputation at position %d", i)
		}
		return key, nil
	}
	_, e, err := m.res.resolveLogEntry(ctx, i-m.nBefore)
	if err != nil {
		return types.ReputationKey{}, err
	}
	score := m.strategy.Score(i, ScoreFromLogEntry(e))
	return m.res.keyInLogEntry(ctx, e, i-m.nBefore-e.NPreviousUpdates, score)
}

// insert is the only mutator of the reputation state. A new key gets the
// next uid; an existing key keeps its uid. The score is clamped to
// [0, 2^256-1]. The tree is written before the local mirror.
func (m *Miner) insert(ctx context.Context, key types.ReputationKey, delta *big.Int) (types.ReputationValue, error) {
	var (
		score *uint256.Int
		uid   uint256.Int
	)
	if cur, ok := m.state.Get(key); ok {
		score = clampAdd(&cur.Score, delta)
		uid = cur.UID
	} else {
		score = clampAdd(new(uint256.Int), delta)
		uid.SetUint64(m.state.Len() + 1)
	}
	v := types.NewReputationValue(score, &uid)
	if err := m.tree.insert(ctx, key.Bytes(), v.Bytes()); err != nil {
		return types.ReputationValue{}, err
	}
	m.state.set(key, v)
	m.metrics.Reputations.Set(float64(m.state.Len()))
	return v, nil
}
