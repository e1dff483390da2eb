package miner_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/log"
	"github.com/eth2030/reputation-miner/miner"
	"github.com/eth2030/reputation-miner/miner/minertest"
	"github.com/eth2030/reputation-miner/trie/patricia"
)

var (
	colony = common.HexToAddress("0xc01011c01011c01011c01011c01011c01011c010")
	user   = common.HexToAddress("0x5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e")
)

func newMiner(t *testing.T, net *minertest.Network, cfg miner.Config) *miner.Miner {
	t.Helper()
	cfg.Network = net
	if cfg.Logger == nil {
		cfg.Logger = log.NewWithWriter(&bytes.Buffer{}, slog.LevelDebug)
	}
	m, err := miner.New(context.Background(), cfg)
	require.NoError(t, err)
	return m
}

func replay(t *testing.T, m *miner.Miner) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.BeginCycle(ctx))
	require.NoError(t, m.ReplayAll(ctx))
}

func key(skill *uint256.Int, u common.Address) types.ReputationKey {
	return types.ReputationKey{Colony: colony, Skill: *skill, User: u}
}

func requireRep(t *testing.T, m *miner.Miner, k types.ReputationKey, score, uid uint64) {
	t.Helper()
	v, ok := m.Reputation(k)
	require.True(t, ok, "missing %s", k)
	require.Equal(t, score, v.Score.Uint64(), "score of %s", k)
	require.Equal(t, uid, v.UID.Uint64(), "uid of %s", k)
}

// requireJustified checks every captured entry against the justification
// root and every reputation against the reputation root.
func requireJustified(t *testing.T, m *miner.Miner) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.VerifyProofs(ctx))
	jrh, err := m.JustificationRootHash(ctx)
	require.NoError(t, err)
	for i := uint64(0); i <= m.TotalUpdates(); i++ {
		e, err := m.Entry(i)
		require.NoError(t, err)
		require.Equal(t, i, e.Index)
		p, err := m.JustificationProof(ctx, i)
		require.NoError(t, err)
		root, err := patricia.ImpliedRoot(e.IndexKey(), e.Leaf(), &p.BranchMask, p.Siblings)
		require.NoError(t, err)
		require.Equal(t, jrh, root, "entry %d", i)
	}
	_, err = m.Entry(m.TotalUpdates() + 1)
	require.True(t, errors.Is(err, miner.ErrJustificationNotFound))
}

func TestReplay_ColonyWidePositiveUpdate(t *testing.T) {
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.Cycle().AddLogEntry(colony, user, skill, 100)

	m := newMiner(t, net, miner.Config{})
	replay(t, m)

	require.Equal(t, uint64(2), m.TotalUpdates())
	require.Equal(t, uint64(2), m.NReputations())
	requireRep(t, m, key(skill, common.Address{}), 100, 1)
	requireRep(t, m, key(skill, user), 100, 2)
	requireJustified(t, m)

	sentinel, err := m.Entry(2)
	require.NoError(t, err)
	root, err := m.RootHash(context.Background())
	require.NoError(t, err)
	require.Equal(t, root, sentinel.InterimHash)
	require.Equal(t, uint64(2), sentinel.NNodes)
	require.Equal(t, types.EmptyProof(nil, 2), sentinel.NextUpdateProof)
	require.Equal(t, key(skill, user).Bytes(), sentinel.JustUpdatedProof.Key)
}

func TestReplay_NegativeUpdateCascadesToChild(t *testing.T) {
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	child := net.AddSkill(skill)
	e := net.Cycle().AddLogEntry(colony, user, skill, -50)
	require.Equal(t, uint64(4), e.NUpdates)

	m := newMiner(t, net, miner.Config{})
	replay(t, m)

	require.Equal(t, []types.ReputationKey{
		key(child, common.Address{}),
		key(skill, common.Address{}),
		key(child, user),
		key(skill, user),
	}, m.Keys())
	for i, k := range m.Keys() {
		requireRep(t, m, k, 0, uint64(i+1))
	}
	requireJustified(t, m)
}

func TestReplay_PositiveUpdateSkipsChildrenUpdatesParents(t *testing.T) {
	net := minertest.NewNetwork()
	root := net.AddSkill(nil)
	mid := net.AddSkill(root)
	leaf := net.AddSkill(mid)
	net.AddSkill(leaf)
	e := net.Cycle().AddLogEntry(colony, user, leaf, 7)
	require.Equal(t, uint64(6), e.NUpdates)

	m := newMiner(t, net, miner.Config{})
	replay(t, m)

	require.Equal(t, []types.ReputationKey{
		key(mid, common.Address{}),
		key(root, common.Address{}),
		key(leaf, common.Address{}),
		key(mid, user),
		key(root, user),
		key(leaf, user),
	}, m.Keys())
	for i, k := range m.Keys() {
		requireRep(t, m, k, 7, uint64(i+1))
	}
	requireJustified(t, m)
}

func TestReplay_DecayOfExistingReputation(t *testing.T) {
	ctx := context.Background()
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	m := newMiner(t, net, miner.Config{})

	big1, small := key(skill, user), key(skill, common.Address{})
	_, err := m.Insert(ctx, big1, big.NewInt(100000))
	require.NoError(t, err)
	_, err = m.Insert(ctx, small, big.NewInt(100))
	require.NoError(t, err)
	root, err := m.RootHash(ctx)
	require.NoError(t, err)
	net.SetCommitted(root, 2)

	replay(t, m)
	require.Equal(t, uint64(2), m.NReputationsBeforeLog())
	require.Equal(t, uint64(2), m.TotalUpdates())
	requireRep(t, m, big1, 99967, 1)
	requireRep(t, m, small, 99, 2)
	requireJustified(t, m)

	first, err := m.Entry(0)
	require.NoError(t, err)
	require.Equal(t, root, first.InterimHash)
	n, err := m.LogEntryForUpdate(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReplay_DecayThenLog(t *testing.T) {
	ctx := context.Background()
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.Cycle().AddLogEntry(colony, user, skill, 1000000)

	m := newMiner(t, net, miner.Config{})
	replay(t, m)
	root, err := m.RootHash(ctx)
	require.NoError(t, err)
	net.SetCommitted(root, m.NReputations())

	next := net.NewCycle()
	next.AddLogEntry(colony, user, skill, -1000)
	replay(t, m)

	require.Equal(t, uint64(4), m.TotalUpdates())
	// 1000000 decays to 999679, then loses 1000.
	requireRep(t, m, key(skill, common.Address{}), 998679, 1)
	requireRep(t, m, key(skill, user), 998679, 2)
	requireJustified(t, m)

	n, err := m.LogEntryForUpdate(ctx, 3)
	require.NoError(t, err)
	require.Zero(t, n)
	k, err := m.KeyForUpdate(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, key(skill, user), k)
}

func TestInsert_ClampAndUIDStability(t *testing.T) {
	ctx := context.Background()
	m := newMiner(t, minertest.NewNetwork(), miner.Config{})
	k := key(uint256.NewInt(9), user)

	v, err := m.Insert(ctx, k, big.NewInt(-10))
	require.NoError(t, err)
	require.True(t, v.Score.IsZero())
	require.Equal(t, uint64(1), v.UID.Uint64())

	huge := new(big.Int).Lsh(big.NewInt(1), 257)
	v, err = m.Insert(ctx, k, huge)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).SetAllOne(), &v.Score)
	require.Equal(t, uint64(1), v.UID.Uint64())

	other := key(uint256.NewInt(10), user)
	v, err = m.Insert(ctx, other, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, uint64(2), v.UID.Uint64())

	v, err = m.Insert(ctx, k, big.NewInt(-5))
	require.NoError(t, err)
	require.Equal(t, uint64(1), v.UID.Uint64())
	require.Equal(t, uint64(2), m.NReputations())
	require.NoError(t, m.VerifyProofs(ctx))
}

func TestReplay_Deterministic(t *testing.T) {
	net := minertest.NewNetwork()
	a := net.AddSkill(nil)
	b := net.AddSkill(a)
	c := net.AddSkill(b)
	cy := net.Cycle()
	cy.AddLogEntry(colony, user, c, 40)
	cy.AddLogEntry(colony, common.HexToAddress("0x77"), b, -15)
	cy.AddLogEntry(colony, user, a, 3)

	ctx := context.Background()
	var roots, jrhs []common.Hash
	for i := 0; i < 2; i++ {
		m := newMiner(t, net, miner.Config{})
		replay(t, m)
		requireJustified(t, m)
		root, err := m.RootHash(ctx)
		require.NoError(t, err)
		jrh, err := m.JustificationRootHash(ctx)
		require.NoError(t, err)
		roots = append(roots, root)
		jrhs = append(jrhs, jrh)
	}
	require.Equal(t, roots[0], roots[1])
	require.Equal(t, jrhs[0], jrhs[1])
}

func TestReplay_IndexZeroAdoptsCommittedRoot(t *testing.T) {
	var buf bytes.Buffer
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.Cycle().AddLogEntry(colony, user, skill, 5)
	committed := common.HexToHash("0xfeed")
	net.SetCommitted(committed, 3)

	m := newMiner(t, net, miner.Config{Logger: log.NewWithWriter(&buf, slog.LevelDebug)})
	replay(t, m)
	require.Contains(t, buf.String(), `"level":"DESYNC"`)

	first, err := m.Entry(0)
	require.NoError(t, err)
	require.Equal(t, committed, first.InterimHash)
	require.Zero(t, first.NNodes)
	requireRep(t, m, key(skill, user), 5, 2)
}

func TestReplay_DesyncIsNotFatal(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	m := newMiner(t, net, miner.Config{Logger: log.NewWithWriter(&buf, slog.LevelDebug)})
	_, err := m.Insert(ctx, key(skill, user), big.NewInt(10))
	require.NoError(t, err)
	committed := common.HexToHash("0xfeed")
	net.SetCommitted(committed, 1)
	net.Cycle().AddLogEntry(colony, user, skill, 5)

	replay(t, m)
	require.Contains(t, buf.String(), `"level":"DESYNC"`)
	first, err := m.Entry(0)
	require.NoError(t, err)
	require.Equal(t, committed, first.InterimHash)
	require.Equal(t, uint64(1), first.NNodes)
	require.True(t, first.JustUpdatedProof.IsEmpty())
	requireRep(t, m, key(skill, user), 14, 1)
}

func TestReplay_NoDesyncOnFreshNetwork(t *testing.T) {
	var buf bytes.Buffer
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.Cycle().AddLogEntry(colony, user, skill, 5)
	m := newMiner(t, net, miner.Config{Logger: log.NewWithWriter(&buf, slog.LevelDebug)})
	replay(t, m)
	require.NotContains(t, buf.String(), "DESYNC")
}

func TestReplay_EmptyCycle(t *testing.T) {
	m := newMiner(t, minertest.NewNetwork(), miner.Config{})
	replay(t, m)
	require.Zero(t, m.TotalUpdates())
	e, err := m.Entry(0)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, e.InterimHash)
	require.Zero(t, e.NNodes)
	requireJustified(t, m)
}

func TestReplay_StrategyIsApplied(t *testing.T) {
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.Cycle().AddLogEntry(colony, user, skill, 100)

	double := miner.ScoreFunc(func(i uint64, amount *big.Int) *big.Int {
		if i == 1 {
			return new(big.Int).Mul(amount, big.NewInt(2))
		}
		return amount
	})
	m := newMiner(t, net, miner.Config{Strategy: double})
	replay(t, m)
	requireRep(t, m, key(skill, common.Address{}), 100, 1)
	requireRep(t, m, key(skill, user), 200, 2)
}

func TestReplay_OncePerCycle(t *testing.T) {
	ctx := context.Background()
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.Cycle().AddLogEntry(colony, user, skill, 1)
	m := newMiner(t, net, miner.Config{})
	replay(t, m)

	require.True(t, errors.Is(m.ReplayAll(ctx), miner.ErrAlreadyReplayed))
	require.True(t, errors.Is(m.BeginCycle(ctx), miner.ErrAlreadyReplayed))

	net.NewCycle()
	require.NoError(t, m.BeginCycle(ctx))
	require.Equal(t, uint64(2), m.NReputationsBeforeLog())
}

func TestReplay_RequiresCycle(t *testing.T) {
	m := newMiner(t, minertest.NewNetwork(), miner.Config{})
	require.True(t, errors.Is(m.ReplayAll(context.Background()), miner.ErrNoCycle))
	_, err := m.Entry(0)
	require.True(t, errors.Is(err, miner.ErrNoCycle))
}

func TestReplay_AbandonRestoresCheckpoint(t *testing.T) {
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.AddSkill(skill)
	net.Cycle().AddLogEntry(colony, user, skill, -4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopAt := miner.ScoreFunc(func(i uint64, amount *big.Int) *big.Int {
		if i == 2 {
			cancel()
		}
		return amount
	})
	seedCtx := context.Background()
	m := newMiner(t, net, miner.Config{Strategy: stopAt})
	_, err := m.Insert(seedCtx, key(skill, user), big.NewInt(10))
	require.NoError(t, err)
	before, err := m.RootHash(seedCtx)
	require.NoError(t, err)
	net.SetCommitted(before, 1)

	require.NoError(t, m.BeginCycle(seedCtx))
	err = m.ReplayAll(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	require.Greater(t, m.NReputations(), uint64(1))

	_, err = m.Insert(seedCtx, key(skill, user), big.NewInt(1))
	require.True(t, errors.Is(err, miner.ErrCycleAbandoned))
	require.True(t, errors.Is(m.BeginCycle(seedCtx), miner.ErrCycleAbandoned))

	require.NoError(t, m.Abandon(seedCtx))
	require.Equal(t, uint64(1), m.NReputations())
	got, err := m.RootHash(seedCtx)
	require.NoError(t, err)
	require.Equal(t, before, got)
	requireRep(t, m, key(skill, user), 10, 1)

	require.NoError(t, m.BeginCycle(seedCtx))
	require.NoError(t, m.ReplayAll(seedCtx))
	requireJustified(t, m)
}

func TestReplay_LogReadFailureAbandons(t *testing.T) {
	ctx := context.Background()
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	cy := net.Cycle()
	cy.AddLogEntry(colony, user, skill, 1)
	m := newMiner(t, net, miner.Config{})
	require.NoError(t, m.BeginCycle(ctx))
	cy.FailLogReads(true)
	require.True(t, errors.Is(m.ReplayAll(ctx), minertest.ErrLogReadFailed))
	require.True(t, errors.Is(m.ReplayAll(ctx), miner.ErrCycleAbandoned))
}

func TestKeyForUpdate_CachesReads(t *testing.T) {
	ctx := context.Background()
	net := minertest.NewNetwork()
	skill := net.AddSkill(nil)
	net.AddSkill(skill)
	cy := net.Cycle()
	cy.AddLogEntry(colony, user, skill, -3)
	m := newMiner(t, net, miner.Config{})
	replay(t, m)

	skillReads, logReads := net.SkillReads(), cy.LogReads()
	for i := uint64(0); i < m.TotalUpdates(); i++ {
		_, err := m.KeyForUpdate(ctx, i)
		require.NoError(t, err)
	}
	require.Equal(t, skillReads, net.SkillReads())
	require.Equal(t, logReads, cy.LogReads())
}

func TestLogEntryForUpdate_BinarySearch(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sizes := rapid.SliceOfN(rapid.Uint64Range(1, 9), 1, 40).Draw(rt, "sizes").([]uint64)
		net := minertest.NewNetwork()
		cy := net.Cycle()
		var prev uint64
		for _, n := range sizes {
			cy.AppendRaw(&types.UpdateLogEntry{Amount: big.NewInt(1), NUpdates: n, NPreviousUpdates: prev})
			prev += n
		}

		m, err := miner.New(context.Background(), miner.Config{
			Network: net,
			Logger:  log.NewWithWriter(&bytes.Buffer{}, slog.LevelError),
		})
		if err != nil {
			rt.Fatal(err)
		}
		ctx := context.Background()
		if err := m.BeginCycle(ctx); err != nil {
			rt.Fatal(err)
		}
		var u uint64
		for want, n := range sizes {
			for j := uint64(0); j < n; j++ {
				got, err := m.LogEntryForUpdate(ctx, u)
				if err != nil {
					rt.Fatalf("update %d: %v", u, err)
				}
				if got != uint64(want) {
					rt.Fatalf("update %d resolved to entry %d, want %d", u, got, want)
				}
				u++
			}
		}
		if _, err := m.LogEntryForUpdate(ctx, u); !errors.Is(err, miner.ErrLogIndexOutOfRange) {
			rt.Fatalf("update %d past the log: %v", u, err)
		}
	})
}

func TestLogEntryForUpdate_Gap(t *testing.T) {
	ctx := context.Background()
	net := minertest.NewNetwork()
	cy := net.Cycle()
	cy.AppendRaw(&types.UpdateLogEntry{Amount: big.NewInt(1), NUpdates: 2, NPreviousUpdates: 0})
	cy.AppendRaw(&types.UpdateLogEntry{Amount: big.NewInt(1), NUpdates: 2, NPreviousUpdates: 4})
	m := newMiner(t, net, miner.Config{})
	require.NoError(t, m.BeginCycle(ctx))

	_, err := m.LogEntryForUpdate(ctx, 3)
	require.True(t, errors.Is(err, miner.ErrLogIndexOutOfRange))
	n, err := m.LogEntryForUpdate(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestInsert_ConcurrentWithReaders(t *testing.T) {
	const writers = 32
	ctx := context.Background()
	m := newMiner(t, minertest.NewNetwork(), miner.Config{})

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			seen := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := m.RootHash(ctx)
				assert.NoError(t, err)
				keys := m.Keys()
				assert.GreaterOrEqual(t, len(keys), seen, "key set shrank")
				seen = len(keys)
				for _, k := range keys {
					_, ok := m.Reputation(k)
					assert.True(t, ok, "listed key %s has no value", k)
					_, err := m.ReputationProof(ctx, k)
					assert.NoError(t, err, "proof for %s", k)
				}
			}
		}()
	}

	uids := make([]uint64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.Insert(ctx, key(uint256.NewInt(uint64(i)), user), big.NewInt(int64(i+1)))
			if assert.NoError(t, err) {
				uids[i] = v.UID.Uint64()
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	seen := make(map[uint64]bool)
	for i, uid := range uids {
		require.True(t, uid >= 1 && uid <= writers, "writer %d got uid %d", i, uid)
		require.False(t, seen[uid], "uid %d assigned twice", uid)
		seen[uid] = true
		requireRep(t, m, key(uint256.NewInt(uint64(i)), user), uint64(i+1), uid)
	}
	require.Equal(t, uint64(writers), m.NReputations())
	require.NoError(t, m.VerifyProofs(ctx))
}
