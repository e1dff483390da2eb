package types

import "github.com/ethereum/go-ethereum/common"

// Submission is the verifier's record of one competing submission in a
// dispute round. LowerBound and UpperBound delimit the binary-search window
// over logical update indices.
type Submission struct {
	ProposedRootHash           common.Hash
	NNodes                     uint64
	LastResponseTimestamp      uint64
	ChallengeStepCompleted     uint64
	JRH                        common.Hash
	IntermediateReputationHash common.Hash
	IntermediateNNodes         uint64
	JRHNNodes                  uint64
	LowerBound                 uint64
	UpperBound                 uint64
}

// Midpoint returns the index the verifier expects the next binary-search
// response for.
func (s *Submission) Midpoint() uint64 {
	return s.LowerBound + (s.UpperBound-s.LowerBound)/2
}

// ChallengeResponse is the proof bundle that lets the verifier replay the
// single disputed update between LastAgreeIndex and FirstDisagreeIndex.
type ChallengeResponse struct {
	Round              uint64
	Index              uint64
	FirstDisagreeIndex uint64
	ReputationKey      []byte

	// AgreeState is the NextUpdateProof recorded at the last agreed index.
	AgreeState Proof
	// DisagreeState is the JustUpdatedProof recorded at the first disputed index.
	DisagreeState Proof
	// Newest is the NewestReputationProof recorded at the last agreed index.
	Newest Proof

	AgreeStateJRHProof    TreeProof
	DisagreeStateJRHProof TreeProof

	// LogEntryIndex is the originating log entry, or 0 inside the decay prefix.
	LogEntryIndex uint64
}

// LastAgreeIndex returns the index of the last interim state both
// submissions agree on.
func (r *ChallengeResponse) LastAgreeIndex() uint64 {
	return r.FirstDisagreeIndex - 1
}
