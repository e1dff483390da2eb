package miner

import (
	"github.com/eth2030/reputation-miner/core/types"
)

// ReputationState is the local mirror of the reputation tree. Besides the
// key -> value mapping it keeps the keys in insertion order, which is what
// "the i-th reputation" refers to during decay and in uid assignment.
type ReputationState struct {
	values map[[types.KeyLength]byte]types.ReputationValue
	order  []types.ReputationKey
}

// NewReputationState returns an empty state.
func NewReputationState() *ReputationState {
	return &ReputationState{values: make(map[[types.KeyLength]byte]types.ReputationValue)}
}

// Len returns nReputations, the number of distinct keys ever inserted.
func (s *ReputationState) Len() uint64 {
	return uint64(len(s.order))
}

// Get returns the value stored for k.
func (s *ReputationState) Get(k types.ReputationKey) (types.ReputationValue, bool) {
	v, ok := s.values[k.Array()]
	return v, ok
}

// KeyAt returns the i-th key in insertion order.
func (s *ReputationState) KeyAt(i uint64) (types.ReputationKey, bool) {
	if i >= uint64(len(s.order)) {
		return types.ReputationKey{}, false
	}
	return s.order[i], true
}

// Newest returns the key with the highest uid.
func (s *ReputationState) Newest() (types.ReputationKey, bool) {
	if len(s.order) == 0 {
		return types.ReputationKey{}, false
	}
	return s.order[len(s.order)-1], true
}

// Keys returns a copy of the keys in insertion order.
func (s *ReputationState) Keys() []types.ReputationKey {
	return append([]types.ReputationKey(nil), s.order...)
}

// set stores v under k, appending k to the order when it is new.
func (s *ReputationState) set(k types.ReputationKey, v types.ReputationValue) {
	a := k.Array()
	if _, ok := s.values[a]; !ok {
		s.order = append(s.order, k)
	}
	s.values[a] = v
}

func (s *ReputationState) clone() *ReputationState {
	cp := &ReputationState{
		values: make(map[[types.KeyLength]byte]types.ReputationValue, len(s.values)),
		order:  append([]types.ReputationKey(nil), s.order...),
	}
	for k, v := range s.values {
		cp.values[k] = v
	}
	return cp
}
