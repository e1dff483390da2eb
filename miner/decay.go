package miner

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	maxUint256    = new(uint256.Int).SetAllOne()
	maxUint256Big = maxUint256.ToBig()
)

// DecayRate is the fraction, slightly below one, every existing reputation
// is multiplied by at the start of a cycle.
type DecayRate struct {
	Numerator   uint256.Int
	Denominator uint256.Int
}

// DefaultDecayRate is the colony network's per-cycle decay.
var DefaultDecayRate = DecayRate{
	Numerator:   *uint256.NewInt(999679150010888),
	Denominator: *uint256.NewInt(1000000000000000),
}

// Apply returns floor(score * Numerator / Denominator). Scores large enough
// that score*Numerator could overflow 256 bits are divided first. The
// verifier recomputes the same value, so the branch choice is part of the
// protocol.
func (r *DecayRate) Apply(score *uint256.Int) *uint256.Int {
	threshold := new(uint256.Int).Div(maxUint256, &r.Denominator)
	out := new(uint256.Int)
	if score.Gt(threshold) {
		out.Div(score, &r.Denominator)
		return out.Mul(out, &r.Numerator)
	}
	out.Mul(score, &r.Numerator)
	return out.Div(out, &r.Denominator)
}

// Delta returns the signed change decaying score implies.
func (r *DecayRate) Delta(score *uint256.Int) *big.Int {
	return new(big.Int).Sub(r.Apply(score).ToBig(), score.ToBig())
}

// Decay applies DefaultDecayRate.
func Decay(score *uint256.Int) *uint256.Int {
	return DefaultDecayRate.Apply(score)
}

// clampAdd returns existing+delta limited to [0, 2^256-1].
func clampAdd(existing *uint256.Int, delta *big.Int) *uint256.Int {
	sum := existing.ToBig()
	if delta != nil {
		sum.Add(sum, delta)
	}
	switch {
	case sum.Sign() < 0:
		return new(uint256.Int)
	case sum.Cmp(maxUint256Big) > 0:
		return new(uint256.Int).Set(maxUint256)
	}
	out, _ := uint256.FromBig(sum)
	return out
}
