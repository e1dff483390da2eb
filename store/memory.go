package store

import (
	"sync"

	"github.com/eth2030/reputation-miner/core/types"
)

// MemoryStore is an EntryStore kept entirely in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uint64]*types.JustificationEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uint64]*types.JustificationEntry)}
}

func (s *MemoryStore) Put(e *types.JustificationEntry) error {
	cp := *e
	s.mu.Lock()
	s.entries[e.Index] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(index uint64) (*types.JustificationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[index]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	s.entries = make(map[uint64]*types.JustificationEntry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
