package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// UpdateLogEntry is one entry of the mining cycle's reputation update log.
// Each entry implies NUpdates logical updates; NPreviousUpdates is the sum of
// NUpdates over all earlier entries.
type UpdateLogEntry struct {
	User             common.Address
	Amount           *big.Int // signed
	Skill            uint256.Int
	Colony           common.Address
	NUpdates         uint64
	NPreviousUpdates uint64
}

// End returns the first log-relative update number past this entry.
func (e *UpdateLogEntry) End() uint64 {
	return e.NPreviousUpdates + e.NUpdates
}

// Contains reports whether the log-relative update number u falls inside
// [NPreviousUpdates, NPreviousUpdates+NUpdates).
func (e *UpdateLogEntry) Contains(u uint64) bool {
	return u >= e.NPreviousUpdates && u < e.End()
}

// Half returns the number of updates in each of the colony-wide and
// user-specific halves of the entry.
func (e *UpdateLogEntry) Half() uint64 {
	return e.NUpdates / 2
}

// Skill is the part of a skill-hierarchy node the miner consults.
type Skill struct {
	NParents  uint64
	NChildren uint64
}
