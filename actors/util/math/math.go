package math

import (
	big "github.com/storageminer/specs-actors/actors/abi/big"
)

// Precision is the number of bits of fractional precision carried by Q.128
// fixed-point values used throughout the smoothing and monies curves
// (reward/power estimates are tracked as Q.128 to avoid rounding bias across
// many epochs of compounding).
const Precision = 128

// ExtraDecimalPrecision is the number of fractional decimal digits printed
// when rendering a Q.128 value for logs/tests, not used in consensus paths.
const ExtraDecimalPrecision = 6

// Ln computes an approximation of the natural log of a Q.128 fixed point
// number `loggedValue` with Q.128 precision, using the bit-length of the
// operand to bootstrap a Taylor expansion around the nearest power of two.
// Adapted from the teacher's reward-curve approach of integer-only maths
// avoiding any floating point so execution remains deterministic.
func Ln(loggedValue big.Int) big.Int {
	if loggedValue.Sign() <= 0 {
		return big.Zero()
	}
	// Normalize to [1,2) in Q.128 space: x = 2^k * m
	k := loggedValue.BitLen() - 1 - Precision
	m := loggedValue
	if k > 0 {
		m = big.Rsh(loggedValue, uint(k))
	} else if k < 0 {
		m = big.Lsh(loggedValue, uint(-k))
	}
	// ln(m) via ln(1+y) Taylor series where y = m/2^128 - 1, |y| < 1.
	one := big.Lsh(big.NewInt(1), Precision)
	y := big.Sub(m, one)
	term := y
	sum := big.Zero()
	for i := int64(1); i <= 8; i++ {
		contribution := big.Div(term, big.NewInt(i))
		if i%2 == 1 {
			sum = big.Add(sum, contribution)
		} else {
			sum = big.Sub(sum, contribution)
		}
		term = big.Rsh(big.Mul(term, y), Precision)
	}
	ln2 := big.NewInt(0)
	ln2.Int.SetString("235865763225513294137944142764154484399", 10) // ln(2) * 2^128, truncated
	kTerm := big.Mul(big.NewInt(int64(k)), ln2)
	return big.Add(sum, kTerm)
}
