// Package dispute drives a miner's submission through the verifier's
// dispute protocol: root submission, justification root submission, the
// binary search for the first disagreeing update and the final challenge.
package dispute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/eth2030/reputation-miner/core/types"
	"github.com/eth2030/reputation-miner/log"
	"github.com/eth2030/reputation-miner/metrics"
	"github.com/eth2030/reputation-miner/miner"
)

var (
	// ErrSlotNotFound means no slot in any round holds this miner's root.
	ErrSlotNotFound = errors.New("submission not found in dispute rounds")
	// ErrInvalidTransition is returned for an operation the current state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid dispute state transition")
	// ErrSearchComplete is returned by a binary-search response once the
	// window has converged.
	ErrSearchComplete = errors.New("binary search already complete")
)

// DefaultEntryIndex is the staking entry submitted with the root hash.
const DefaultEntryIndex = 1

// State is the engine's position in the protocol.
type State int

const (
	Unsubmitted State = iota
	RootSubmitted
	JustificationSubmitted
	BinarySearching
	ChallengeAnswered
)

func (s State) String() string {
	switch s {
	case Unsubmitted:
		return "unsubmitted"
	case RootSubmitted:
		return "root-submitted"
	case JustificationSubmitted:
		return "justification-submitted"
	case BinarySearching:
		return "binary-searching"
	case ChallengeAnswered:
		return "challenge-answered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Replayer is the view of a replayed miner the engine answers from.
// *miner.Miner implements it.
type Replayer interface {
	Cycle() miner.MiningCycle
	RootHash(ctx context.Context) (common.Hash, error)
	NReputations() uint64
	NReputationsBeforeLog() uint64
	TotalUpdates() uint64
	Entry(index uint64) (*types.JustificationEntry, error)
	JustificationRootHash(ctx context.Context) (common.Hash, error)
	JustificationProof(ctx context.Context, index uint64) (types.TreeProof, error)
	KeyForUpdate(ctx context.Context, index uint64) (types.ReputationKey, error)
	LogEntryForUpdate(ctx context.Context, index uint64) (uint64, error)
}

var _ Replayer = (*miner.Miner)(nil)

// Config configures an Engine.
type Config struct {
	// EntryIndex is passed with the root submission. Defaults to 1.
	EntryIndex uint64
	Logger     *log.Logger
	Metrics    *metrics.Metrics
}

// Engine is the dispute state machine for one mining cycle.
type Engine struct {
	miner      Replayer
	cycle      miner.MiningCycle
	entryIndex uint64
	log        *log.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	state     State
	submitted common.Hash
	answered  *window
}

// window identifies one binary-search step: the slot and the bounds the
// verifier announced for it. The bounds only change once both sides of a
// pair have answered, so an unchanged window means the opponent is behind.
type window struct {
	round, index uint64
	lower, upper uint64
}

func windowOf(round, index uint64, sub *types.Submission) window {
	return window{round: round, index: index, lower: sub.LowerBound, upper: sub.UpperBound}
}

// New returns an engine for the miner's current cycle.
func New(m Replayer, cfg Config) (*Engine, error) {
	cycle := m.Cycle()
	if cycle == nil {
		return nil, miner.ErrNoCycle
	}
	e := &Engine{
		miner:      m,
		cycle:      cycle,
		entryIndex: cfg.EntryIndex,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if e.entryIndex == 0 {
		e.entryIndex = DefaultEntryIndex
	}
	if e.log == nil {
		e.log = log.Default().Module("dispute")
	}
	if e.metrics == nil {
		e.metrics = metrics.NopMetrics()
	}
	e.log = e.log.With("cycle", cycle.Address())
	return e, nil
}

// State returns the current protocol state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) expect(op string, allowed ...State) error {
	for _, s := range allowed {
		if e.state == s {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "%s in state %s", op, e.state)
}

func (e *Engine) count(kind string) {
	e.metrics.DisputeResponses.With("kind", kind).Add(1)
}

// SubmitRootHash publishes the replayed reputation root and node count.
func (e *Engine) SubmitRootHash(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect("submit root hash", Unsubmitted); err != nil {
		return err
	}
	root, err := e.miner.RootHash(ctx)
	if err != nil {
		return err
	}
	n := e.miner.NReputations()
	if err := e.cycle.SubmitRootHash(ctx, root, n, e.entryIndex); err != nil {
		return errors.Wrap(err, "submit root hash")
	}
	e.submitted = root
	e.state = RootSubmitted
	e.count("submit_root_hash")
	e.log.Info("root hash submitted", "root", root, "nNodes", n, "entry", e.entryIndex)
	return nil
}

// LocateSubmission finds the (round, index) slot holding this miner's
// submitted root. Rounds are scanned in order and slots within a round
// until the first absent one; a round without a slot 0 ends the scan.
func (e *Engine) LocateSubmission(ctx context.Context) (round, index uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect("locate submission", RootSubmitted, JustificationSubmitted, BinarySearching, ChallengeAnswered); err != nil {
		return 0, 0, err
	}
	round, index, _, err = e.locate(ctx)
	return round, index, err
}

func (e *Engine) locate(ctx context.Context) (uint64, uint64, *types.Submission, error) {
	for round := uint64(0); ; round++ {
		for index := uint64(0); ; index++ {
			sub, ok, err := e.cycle.DisputeRound(ctx, round, index)
			if err != nil {
				return 0, 0, nil, errors.Wrapf(err, "read dispute round (%d, %d)", round, index)
			}
			if !ok {
				if index == 0 {
					return 0, 0, nil, errors.Wrapf(ErrSlotNotFound, "root %s", e.submitted)
				}
				break
			}
			if sub.ProposedRootHash == e.submitted {
				return round, index, sub, nil
			}
		}
	}
}

// SubmitJustificationRootHash publishes the justification root with the
// proofs of its first (index 0) and last (TotalUpdates) entries.
func (e *Engine) SubmitJustificationRootHash(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect("submit justification root hash", RootSubmitted); err != nil {
		return err
	}
	jrh, err := e.miner.JustificationRootHash(ctx)
	if err != nil {
		return err
	}
	first, err := e.miner.JustificationProof(ctx, 0)
	if err != nil {
		return err
	}
	total := e.miner.TotalUpdates()
	last, err := e.miner.JustificationProof(ctx, total)
	if err != nil {
		return err
	}
	round, index, _, err := e.locate(ctx)
	if err != nil {
		return err
	}
	if err := e.cycle.SubmitJustificationRootHash(ctx, round, index, jrh, first, last); err != nil {
		return errors.Wrap(err, "submit justification root hash")
	}
	e.state = JustificationSubmitted
	e.count("submit_justification_root_hash")
	e.log.Info("justification root hash submitted", "jrh", jrh, "round", round, "index", index, "updates", total)
	return nil
}

// RespondToBinarySearchForChallenge answers the verifier's current
// binary-search step with the justification leaf and proof for the
// midpoint of the window it announces.
func (e *Engine) RespondToBinarySearchForChallenge(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect("respond to binary search", JustificationSubmitted, BinarySearching); err != nil {
		return err
	}
	round, index, sub, err := e.locate(ctx)
	if err != nil {
		return err
	}
	return e.respondToBinarySearch(ctx, round, index, sub)
}

func (e *Engine) respondToBinarySearch(ctx context.Context, round, index uint64, sub *types.Submission) error {
	if sub.LowerBound == sub.UpperBound {
		return errors.Wrapf(ErrSearchComplete, "window converged on %d", sub.LowerBound)
	}
	target := sub.Midpoint()
	entry, err := e.miner.Entry(target)
	if err != nil {
		return err
	}
	proof, err := e.miner.JustificationProof(ctx, target)
	if err != nil {
		return err
	}
	if err := e.cycle.RespondToBinarySearchForChallenge(ctx, round, index, entry.Leaf(), proof); err != nil {
		return errors.Wrapf(err, "respond to binary search at %d", target)
	}
	e.state = BinarySearching
	w := windowOf(round, index, sub)
	e.answered = &w
	e.count("respond_to_binary_search")
	e.log.Debug("binary search step answered", "target", target,
		"lower", sub.LowerBound, "upper", sub.UpperBound, "step", sub.ChallengeStepCompleted)
	return nil
}

// ChallengeResponse assembles the proof bundle for the update between the
// last agreed and the first disagreed index of a converged window.
func (e *Engine) ChallengeResponse(ctx context.Context) (*types.ChallengeResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	round, index, sub, err := e.locate(ctx)
	if err != nil {
		return nil, err
	}
	return e.challengeResponse(ctx, round, index, sub)
}

func (e *Engine) challengeResponse(ctx context.Context, round, index uint64, sub *types.Submission) (*types.ChallengeResponse, error) {
	if sub.LowerBound != sub.UpperBound {
		return nil, errors.Errorf("binary search not complete: window [%d, %d]", sub.LowerBound, sub.UpperBound)
	}
	firstDisagree := sub.LowerBound
	if firstDisagree == 0 {
		return nil, errors.New("disagreement at index 0 cannot be challenged")
	}
	lastAgree := firstDisagree - 1

	key, err := e.miner.KeyForUpdate(ctx, lastAgree)
	if err != nil {
		return nil, err
	}
	agree, err := e.miner.Entry(lastAgree)
	if err != nil {
		return nil, err
	}
	disagree, err := e.miner.Entry(firstDisagree)
	if err != nil {
		return nil, err
	}
	agreeProof, err := e.miner.JustificationProof(ctx, lastAgree)
	if err != nil {
		return nil, err
	}
	disagreeProof, err := e.miner.JustificationProof(ctx, firstDisagree)
	if err != nil {
		return nil, err
	}
	logEntry, err := e.miner.LogEntryForUpdate(ctx, lastAgree)
	if err != nil {
		return nil, err
	}
	return &types.ChallengeResponse{
		Round:                 round,
		Index:                 index,
		FirstDisagreeIndex:    firstDisagree,
		ReputationKey:         key.Bytes(),
		AgreeState:            agree.NextUpdateProof,
		DisagreeState:         disagree.JustUpdatedProof,
		Newest:                agree.NewestReputationProof,
		AgreeStateJRHProof:    agreeProof,
		DisagreeStateJRHProof: disagreeProof,
		LogEntryIndex:         logEntry,
	}, nil
}

// RespondToChallenge sends the challenge bundle once the binary search has
// converged.
func (e *Engine) RespondToChallenge(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.expect("respond to challenge", JustificationSubmitted, BinarySearching); err != nil {
		return err
	}
	round, index, sub, err := e.locate(ctx)
	if err != nil {
		return err
	}
	return e.respondToChallenge(ctx, round, index, sub)
}

func (e *Engine) respondToChallenge(ctx context.Context, round, index uint64, sub *types.Submission) error {
	resp, err := e.challengeResponse(ctx, round, index, sub)
	if err != nil {
		return err
	}
	if err := e.cycle.RespondToChallenge(ctx, resp); err != nil {
		return errors.Wrapf(err, "respond to challenge at %d", resp.FirstDisagreeIndex)
	}
	e.state = ChallengeAnswered
	e.count("respond_to_challenge")
	e.log.Info("challenge answered", "firstDisagree", resp.FirstDisagreeIndex,
		"key", common.Bytes2Hex(resp.ReputationKey), "logEntry", resp.LogEntryIndex)
	return nil
}

// Step performs the next protocol action that is currently possible. It
// returns true once the challenge has been answered. When the verifier is
// waiting on the opposing submission, Step does nothing.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case Unsubmitted:
		return false, e.SubmitRootHash(ctx)
	case RootSubmitted:
		return false, e.SubmitJustificationRootHash(ctx)
	case ChallengeAnswered:
		return true, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	round, index, sub, err := e.locate(ctx)
	if err != nil {
		return false, err
	}
	switch {
	case sub.LowerBound == sub.UpperBound:
		if err := e.respondToChallenge(ctx, round, index, sub); err != nil {
			return false, err
		}
		return true, nil
	case e.answered == nil || *e.answered != windowOf(round, index, sub):
		return false, e.respondToBinarySearch(ctx, round, index, sub)
	}
	return false, nil
}

// Run steps the protocol every interval until the challenge is answered or
// ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := e.Step(ctx)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
