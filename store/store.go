// Package store persists justification entries for the cycle being mined,
// so that challenges can be answered long after replay finished.
package store

import (
	"errors"

	"github.com/eth2030/reputation-miner/core/types"
)

// ErrNotFound is returned when no entry was stored for an index.
var ErrNotFound = errors.New("store: entry not found")

// EntryStore holds justification entries keyed by logical update index.
// Entries are written once and never mutated.
type EntryStore interface {
	Put(e *types.JustificationEntry) error
	Get(index uint64) (*types.JustificationEntry, error)
	Len() int
	// Reset drops every entry. It is used when a cycle is abandoned.
	Reset() error
	Close() error
}
