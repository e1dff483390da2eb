package miner

import (
	"context"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
)

// DefaultCacheSize bounds each of the per-cycle read caches.
const DefaultCacheSize = 4096

type skillEdge struct {
	id  uint256.Int
	idx uint64
}

// resolver maps log-relative update numbers to log entries and reputation
// keys. Log and skill reads are pure for the life of a cycle, so they are
// cached.
type resolver struct {
	graph SkillGraph
	src   LogSource

	length   uint64
	entries  *lru.Cache[uint64, *types.UpdateLogEntry]
	skills   *lru.Cache[uint256.Int, types.Skill]
	children *lru.Cache[skillEdge, uint256.Int]
	parents  *lru.Cache[skillEdge, uint256.Int]
}

func newResolver(ctx context.Context, graph SkillGraph, src LogSource, size int) (*resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	r := &resolver{graph: graph, src: src}
	var err error
	if r.entries, err = lru.New[uint64, *types.UpdateLogEntry](size); err != nil {
		return nil, err
	}
	if r.skills, err = lru.New[uint256.Int, types.Skill](size); err != nil {
		return nil, err
	}
	if r.children, err = lru.New[skillEdge, uint256.Int](size); err != nil {
		return nil, err
	}
	if r.parents, err = lru.New[skillEdge, uint256.Int](size); err != nil {
		return nil, err
	}
	if r.length, err = src.UpdateLogLength(ctx); err != nil {
		return nil, errors.Wrap(err, "read update log length")
	}
	return r, nil
}

// logUpdates returns the number of logical updates the whole log implies.
func (r *resolver) logUpdates(ctx context.Context) (uint64, error) {
	if r.length == 0 {
		return 0, nil
	}
	last, err := r.entry(ctx, r.length-1)
	if err != nil {
		return 0, err
	}
	return last.End(), nil
}

func (r *resolver) entry(ctx context.Context, i uint64) (*types.UpdateLogEntry, error) {
	if e, ok := r.entries.Get(i); ok {
		return e, nil
	}
	e, err := r.src.UpdateLogEntry(ctx, i)
	if err != nil {
		return nil, errors.Wrapf(err, "read update log entry %d", i)
	}
	r.entries.Add(i, e)
	return e, nil
}

// resolveLogEntry binary searches the log for the entry whose
// [NPreviousUpdates, NPreviousUpdates+NUpdates) window contains u.
func (r *resolver) resolveLogEntry(ctx context.Context, u uint64) (uint64, *types.UpdateLogEntry, error) {
	if r.length == 0 {
		return 0, nil, errors.Wrapf(ErrLogIndexOutOfRange, "update %d, empty log", u)
	}
	lower, upper := uint64(0), r.length-1
	for lower < upper {
		mid := lower + (upper-lower)/2
		e, err := r.entry(ctx, mid)
		if err != nil {
			return 0, nil, err
		}
		switch {
		case e.NPreviousUpdates > u:
			if mid == lower {
				return 0, nil, errors.Wrapf(ErrLogIndexOutOfRange, "update %d", u)
			}
			upper = mid - 1
		case e.Contains(u):
			lower, upper = mid, mid
		default:
			lower = mid + 1
		}
	}
	e, err := r.entry(ctx, lower)
	if err != nil {
		return 0, nil, err
	}
	if !e.Contains(u) {
		return 0, nil, errors.Wrapf(ErrLogIndexOutOfRange, "update %d", u)
	}
	return lower, e, nil
}

func (r *resolver) skill(ctx context.Context, id *uint256.Int) (types.Skill, error) {
	if s, ok := r.skills.Get(*id); ok {
		return s, nil
	}
	s, err := r.graph.Skill(ctx, id)
	if err != nil {
		return types.Skill{}, errors.Wrapf(err, "read skill %s", id.Dec())
	}
	r.skills.Add(*id, s)
	return s, nil
}

func (r *resolver) relative(ctx context.Context, cache *lru.Cache[skillEdge, uint256.Int], id *uint256.Int, idx uint64,
	fetch func(context.Context, *uint256.Int, uint64) (*uint256.Int, error)) (*uint256.Int, error) {
	k := skillEdge{id: *id, idx: idx}
	if v, ok := cache.Get(k); ok {
		return &v, nil
	}
	v, err := fetch(ctx, id, idx)
	if err != nil {
		return nil, errors.Wrapf(err, "read skill %s relative %d", id.Dec(), idx)
	}
	cache.Add(k, *v)
	return v, nil
}

// keyInLogEntry resolves the j-th update implied by e. The first half of
// the entry's updates are colony-wide, the second half user-specific; each
// half walks children (negative scores only), then parents, then the skill.
func (r *resolver) keyInLogEntry(ctx context.Context, e *types.UpdateLogEntry, j uint64, score *big.Int) (types.ReputationKey, error) {
	half := e.Half()
	key := types.ReputationKey{Colony: e.Colony}
	skillIndex := j
	if j >= half {
		key.User = e.User
		skillIndex = j - half
	}

	s, err := r.skill(ctx, &e.Skill)
	if err != nil {
		return types.ReputationKey{}, err
	}
	var nChild uint64
	if score.Sign() < 0 && half >= 1+s.NParents {
		nChild = half - 1 - s.NParents
	}

	switch {
	case skillIndex < nChild:
		id, err := r.relative(ctx, r.children, &e.Skill, skillIndex, r.graph.ChildSkillID)
		if err != nil {
			return types.ReputationKey{}, err
		}
		key.Skill = *id
	case skillIndex < nChild+s.NParents:
		id, err := r.relative(ctx, r.parents, &e.Skill, skillIndex-nChild, r.graph.ParentSkillID)
		if err != nil {
			return types.ReputationKey{}, err
		}
		key.Skill = *id
	default:
		key.Skill = e.Skill
	}
	return key, nil
}
