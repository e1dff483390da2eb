package minertest

import (
	"bytes"
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/miner"
	"github.com/eth2030/reputation-miner/trie/patricia"
)

var (
	// ErrRejected is returned when a submitted proof does not check out.
	ErrRejected = errors.New("verifier rejected submission")
	// ErrLogReadFailed is returned by log reads after FailLogReads.
	ErrLogReadFailed = errors.New("log read failed")
)

type response struct {
	step   uint64
	leaf   []byte
	target uint64
}

type slot struct {
	sub      types.Submission
	pending  *response
	accepted bool
}

// Cycle is a fake reputation mining cycle: an update log plus a verifier
// that pairs submissions 2k and 2k+1 of a round for the binary search.
type Cycle struct {
	network *Network
	address common.Address

	mu        sync.Mutex
	log       []*types.UpdateLogEntry
	logReads  int
	failReads bool
	rounds    [][]*slot
	round     uint64
	ownSteps  bool
}

var _ miner.MiningCycle = (*Cycle)(nil)

// Address returns the cycle's address.
func (c *Cycle) Address() common.Address { return c.address }

// AddLogEntry appends an entry, deriving NUpdates from the skill tree and
// NPreviousUpdates from the log so far.
func (c *Cycle) AddLogEntry(colony, user common.Address, skill *uint256.Int, amount int64) *types.UpdateLogEntry {
	return c.AddLogEntryBig(colony, user, skill, big.NewInt(amount))
}

// AddLogEntryBig is AddLogEntry for amounts that do not fit an int64.
func (c *Cycle) AddLogEntryBig(colony, user common.Address, skill *uint256.Int, amount *big.Int) *types.UpdateLogEntry {
	nUpdates := c.network.UpdatesFor(skill, amount)
	c.mu.Lock()
	defer c.mu.Unlock()
	var prev uint64
	if n := len(c.log); n > 0 {
		prev = c.log[n-1].End()
	}
	e := &types.UpdateLogEntry{
		User:             user,
		Amount:           new(big.Int).Set(amount),
		Skill:            *skill,
		Colony:           colony,
		NUpdates:         nUpdates,
		NPreviousUpdates: prev,
	}
	c.log = append(c.log, e)
	return e
}

// AppendRaw appends e as is.
func (c *Cycle) AppendRaw(e *types.UpdateLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, e)
}

// FailLogReads makes every subsequent UpdateLogEntry call fail.
func (c *Cycle) FailLogReads(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failReads = fail
}

// LogReads returns how many log entries were read.
func (c *Cycle) LogReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logReads
}

// NextRound makes later root submissions land in a new round.
func (c *Cycle) NextRound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = append(c.rounds, nil)
	c.round++
}

// CountOwnSteps switches how ChallengeStepCompleted advances. When on, a
// submission's counter advances as soon as it answers a binary-search step,
// an answer while it is ahead of its opponent is rejected, and the window
// narrows once both counters are equal again. When off (the default), both
// counters advance together when the pair has answered.
func (c *Cycle) CountOwnSteps(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownSteps = on
}

// Accepted reports whether the submission in (round, index) won its
// challenge.
func (c *Cycle) Accepted(round, index uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slotAt(round, index)
	return err == nil && s.accepted
}

func (c *Cycle) UpdateLogLength(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.log)), nil
}

func (c *Cycle) UpdateLogEntry(_ context.Context, i uint64) (*types.UpdateLogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failReads {
		return nil, ErrLogReadFailed
	}
	if i >= uint64(len(c.log)) {
		return nil, errors.Errorf("log entry %d out of range", i)
	}
	c.logReads++
	cp := *c.log[i]
	cp.Amount = new(big.Int).Set(c.log[i].Amount)
	return &cp, nil
}

func (c *Cycle) DisputeRound(_ context.Context, round, index uint64) (*types.Submission, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slotAt(round, index)
	if err != nil {
		return nil, false, nil
	}
	sub := s.sub
	return &sub, true, nil
}

func (c *Cycle) slotAt(round, index uint64) (*slot, error) {
	if round >= uint64(len(c.rounds)) || index >= uint64(len(c.rounds[round])) {
		return nil, errors.Errorf("no submission at (%d, %d)", round, index)
	}
	return c.rounds[round][index], nil
}

func (c *Cycle) committed() (common.Hash, uint64) {
	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	return c.network.root, c.network.nNodes
}

func (c *Cycle) totalUpdates() uint64 {
	_, n := c.committed()
	if len(c.log) == 0 {
		return n
	}
	return n + c.log[len(c.log)-1].End()
}

func (c *Cycle) SubmitRootHash(_ context.Context, hash common.Hash, nNodes, entryIndex uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entryIndex == 0 {
		return errors.Wrap(ErrRejected, "entry index must be positive")
	}
	c.rounds[c.round] = append(c.rounds[c.round], &slot{sub: types.Submission{
		ProposedRootHash: hash,
		NNodes:           nNodes,
	}})
	return nil
}

func checkJRH(jrh common.Hash, index uint64, leaf []byte, p types.TreeProof) error {
	root, err := patricia.ImpliedRoot(types.EncodeIndex(index), leaf, &p.BranchMask, p.Siblings)
	if err != nil {
		return errors.Wrapf(ErrRejected, "justification proof for %d: %v", index, err)
	}
	if root != jrh {
		return errors.Wrapf(ErrRejected, "justification proof for %d implies %s, want %s", index, root, jrh)
	}
	return nil
}

func (c *Cycle) SubmitJustificationRootHash(_ context.Context, round, index uint64, jrh common.Hash, first, last types.TreeProof) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slotAt(round, index)
	if err != nil {
		return errors.Wrap(ErrRejected, err.Error())
	}
	root, nNodes := c.committed()
	total := c.totalUpdates()
	if err := checkJRH(jrh, 0, types.EncodeJustificationLeaf(root, nNodes), first); err != nil {
		return err
	}
	if err := checkJRH(jrh, total, types.EncodeJustificationLeaf(s.sub.ProposedRootHash, s.sub.NNodes), last); err != nil {
		return err
	}
	s.sub.JRH = jrh
	s.sub.JRHNNodes = total + 1
	s.sub.LowerBound = 0
	s.sub.UpperBound = total
	return nil
}

func (c *Cycle) RespondToBinarySearchForChallenge(_ context.Context, round, index uint64, leaf []byte, proof types.TreeProof) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slotAt(round, index)
	if err != nil {
		return errors.Wrap(ErrRejected, err.Error())
	}
	if s.sub.LowerBound == s.sub.UpperBound {
		return errors.Wrap(ErrRejected, "binary search already complete")
	}
	o, err := c.slotAt(round, index^1)
	if err != nil {
		o = nil
	}
	if c.ownSteps && o != nil && s.sub.ChallengeStepCompleted > o.sub.ChallengeStepCompleted {
		return errors.Wrapf(ErrRejected, "step %d already answered", o.sub.ChallengeStepCompleted)
	}
	target := s.sub.Midpoint()
	if err := checkJRH(s.sub.JRH, target, leaf, proof); err != nil {
		return err
	}
	s.pending = &response{step: s.sub.ChallengeStepCompleted, leaf: common.CopyBytes(leaf), target: target}
	hash, n, _ := types.DecodeJustificationLeaf(leaf)
	s.sub.IntermediateReputationHash, s.sub.IntermediateNNodes = hash, n
	if c.ownSteps {
		s.sub.ChallengeStepCompleted++
	}

	if o == nil || o.pending == nil || o.pending.step != s.pending.step || o.pending.target != target {
		return nil
	}
	agree := bytes.Equal(o.pending.leaf, s.pending.leaf)
	for _, x := range []*slot{s, o} {
		if agree {
			x.sub.LowerBound = target + 1
		} else {
			x.sub.UpperBound = target
		}
		if !c.ownSteps {
			x.sub.ChallengeStepCompleted++
		}
		x.pending = nil
	}
	return nil
}

// impliedRoot recomputes the reputation root a proof object commits to. An
// absent key (uid 0) is proven through the newest reputation, whose uid must
// be the node count.
func impliedRoot(p, newest types.Proof) (common.Hash, error) {
	pv, err := types.DecodeValue(p.Value)
	if err != nil {
		return common.Hash{}, err
	}
	if !pv.UID.IsZero() {
		return patricia.ImpliedRoot(p.Key, p.Value, &p.BranchMask, p.Siblings)
	}
	if p.NNodes == 0 {
		return common.Hash{}, nil
	}
	v, err := types.DecodeValue(newest.Value)
	if err != nil {
		return common.Hash{}, err
	}
	if v.UID.Uint64() != p.NNodes {
		return common.Hash{}, errors.Errorf("newest uid %s, want %d", v.UID.Dec(), p.NNodes)
	}
	return patricia.ImpliedRoot(newest.Key, newest.Value, &newest.BranchMask, newest.Siblings)
}

func (c *Cycle) RespondToChallenge(_ context.Context, r *types.ChallengeResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slotAt(r.Round, r.Index)
	if err != nil {
		return errors.Wrap(ErrRejected, err.Error())
	}
	if s.sub.LowerBound != s.sub.UpperBound || r.FirstDisagreeIndex != s.sub.LowerBound || r.FirstDisagreeIndex == 0 {
		return errors.Wrap(ErrRejected, "challenge window not converged")
	}
	if !bytes.Equal(r.AgreeState.Key, r.ReputationKey) || !bytes.Equal(r.DisagreeState.Key, r.ReputationKey) {
		return errors.Wrap(ErrRejected, "proofs are for different keys")
	}
	lastAgree := r.LastAgreeIndex()

	agreeRoot, err := impliedRoot(r.AgreeState, r.Newest)
	if err != nil {
		return errors.Wrapf(ErrRejected, "agree state: %v", err)
	}
	if err := checkJRH(s.sub.JRH, lastAgree, types.EncodeJustificationLeaf(agreeRoot, r.AgreeState.NNodes), r.AgreeStateJRHProof); err != nil {
		return err
	}
	disagreeRoot, err := patricia.ImpliedRoot(r.DisagreeState.Key, r.DisagreeState.Value, &r.DisagreeState.BranchMask, r.DisagreeState.Siblings)
	if err != nil {
		return errors.Wrapf(ErrRejected, "disagree state: %v", err)
	}
	if err := checkJRH(s.sub.JRH, r.FirstDisagreeIndex, types.EncodeJustificationLeaf(disagreeRoot, r.DisagreeState.NNodes), r.DisagreeStateJRHProof); err != nil {
		return err
	}

	before, err := types.DecodeValue(r.AgreeState.Value)
	if err != nil {
		return errors.Wrap(ErrRejected, err.Error())
	}
	_, nBefore := c.committed()
	var delta *big.Int
	if lastAgree < nBefore {
		delta = miner.DefaultDecayRate.Delta(&before.Score)
	} else {
		if r.LogEntryIndex >= uint64(len(c.log)) || !c.log[r.LogEntryIndex].Contains(lastAgree-nBefore) {
			return errors.Wrapf(ErrRejected, "log entry %d does not imply update %d", r.LogEntryIndex, lastAgree)
		}
		delta = c.log[r.LogEntryIndex].Amount
	}

	score := new(big.Int).Add(before.Score.ToBig(), delta)
	if score.Sign() < 0 {
		score.SetInt64(0)
	}
	expScore, overflow := uint256.FromBig(score)
	if overflow {
		expScore = new(uint256.Int).SetAllOne()
	}
	uid, nNodes := before.UID, r.AgreeState.NNodes
	if uid.IsZero() {
		uid.SetUint64(nNodes + 1)
		nNodes++
	}
	if !bytes.Equal(r.DisagreeState.Value, types.EncodeValue(expScore, &uid)) || r.DisagreeState.NNodes != nNodes {
		return errors.Wrapf(ErrRejected, "update %d applied incorrectly", lastAgree)
	}
	s.accepted = true
	return nil
}
