package miner

import (
	"math/big"

	"github.com/eth2030/reputation-miner/core/types"
)

// ScoreStrategy decides the score change applied for a logical update,
// given the change the log (or decay) calls for. Test and adversarial
// miners substitute their own.
type ScoreStrategy interface {
	Score(index uint64, amount *big.Int) *big.Int
}

// ScoreFunc adapts a function to ScoreStrategy.
type ScoreFunc func(index uint64, amount *big.Int) *big.Int

func (f ScoreFunc) Score(index uint64, amount *big.Int) *big.Int { return f(index, amount) }

// PassThrough applies amounts unmodified.
type PassThrough struct{}

func (PassThrough) Score(_ uint64, amount *big.Int) *big.Int {
	return new(big.Int).Set(amount)
}

// ScoreFromLogEntry returns the signed amount an entry carries.
func ScoreFromLogEntry(e *types.UpdateLogEntry) *big.Int {
	if e.Amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(e.Amount)
}
