package miner

import "errors"

var (
	// ErrKeyNotFound is returned by Tree.Proof for a key never inserted.
	ErrKeyNotFound = errors.New("key not found in tree")
	// ErrTreeWrite wraps failures of Tree.Insert.
	ErrTreeWrite = errors.New("tree write failed")
	// ErrJustificationNotFound is returned for an index that was never captured.
	ErrJustificationNotFound = errors.New("justification entry not found")
	// ErrLogIndexOutOfRange means no log entry owns the requested update.
	ErrLogIndexOutOfRange = errors.New("update number not covered by the update log")
	// ErrCycleAbandoned is returned after a failed replay until Abandon is called.
	ErrCycleAbandoned = errors.New("mining cycle abandoned")
	// ErrAlreadyReplayed is returned by a second ReplayAll in one cycle.
	ErrAlreadyReplayed = errors.New("cycle log already replayed")
	// ErrNoCycle is returned by cycle operations before BeginCycle.
	ErrNoCycle = errors.New("no mining cycle in progress")
	// ErrNotReplayed is returned by operations that need a completed replay.
	ErrNotReplayed = errors.New("cycle log not replayed")
)
