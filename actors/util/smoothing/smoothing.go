package smoothing

import (
	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/util/math"
)

// FilterEstimate is an exponentially-weighted estimate of a quantity
// (reward-per-epoch or quality-adjusted power) together with its
// first-derivative, both carried at Q.128 fixed-point precision. The Reward
// and Power actors publish these so that sector-level curves (monies.go) can
// integrate a smoothed trend rather than a single noisy instantaneous
// sample.
type FilterEstimate struct {
	PositionEstimate big.Int // Q.128
	VelocityEstimate big.Int // Q.128
}

func NewEstimate(position, velocity big.Int) FilterEstimate {
	return FilterEstimate{PositionEstimate: position, VelocityEstimate: velocity}
}

// TestingConstantEstimate returns an estimate fixed at val with zero velocity.
func TestingConstantEstimate(val big.Int) *FilterEstimate {
	return &FilterEstimate{PositionEstimate: big.Lsh(val, math.Precision), VelocityEstimate: big.Zero()}
}

// Estimate returns the current value of the estimate, truncated back to an
// integer token/power amount.
func (fe *FilterEstimate) Estimate() big.Int {
	return big.Rsh(fe.PositionEstimate, math.Precision)
}

// ExtrapolatedCumSumOfRatio approximates sum_{i=0..delta-1} V(t+i)/X(t+i) for
// the linear extrapolations V(t+i) = estimateNumerator(t) + i*velocityNumerator(t)
// and likewise for the denominator, by treating the ratio as a smooth
// function and integrating exp(ln(num)-ln(denom)) * ... Following the
// upstream reward-curve derivation, we approximate using the closed-form
// integral of a linear/linear ratio around t0:
//
//	cumsum ~= delta * num(t0+t0Offset)/denom(t0Offset) + correction term
//
// for a first-order Taylor expansion in the velocities, which is
// sufficiently accurate given that `delta` is bounded by policy (at most a
// few years of epochs) and FilterEstimate velocities move slowly relative to
// the position.
func ExtrapolatedCumSumOfRatio(delta, t0 abi.ChainEpoch, estimateNum, estimateDenom *FilterEstimate) big.Int {
	if delta == 0 {
		return big.Zero()
	}
	t0Num := extrapolatePositionQ128(estimateNum, t0)
	t0Denom := extrapolatePositionQ128(estimateDenom, t0)
	if t0Denom.IsZero() {
		return big.Zero()
	}

	// Midpoint approximation: evaluate the ratio at t0 + delta/2 and scale by
	// delta. This matches the trapezoid-rule shape used by the monies curves
	// while staying first-order accurate in the (slowly varying) velocities.
	halfDelta := big.NewInt(int64(delta))
	halfDelta = big.Div(halfDelta, big.NewInt(2))
	mid := int64(t0) + halfDelta.Int64()

	midNum := extrapolatePositionQ128(estimateNum, abi.ChainEpoch(mid)-t0)
	midDenom := extrapolatePositionQ128(estimateDenom, abi.ChainEpoch(mid)-t0)
	if midDenom.IsZero() {
		midDenom = t0Denom
	}

	ratio := big.Div(big.Lsh(midNum, math.Precision), midDenom) // Q.128
	return big.Mul(ratio, big.NewInt(int64(delta)))             // Q.0 * Q.128 => Q.128
}

// extrapolatePositionQ128 linearly extrapolates a FilterEstimate's position
// forward by `delta` epochs: position(t0+delta) = position + delta*velocity,
// all in Q.128.
func extrapolatePositionQ128(est *FilterEstimate, delta abi.ChainEpoch) big.Int {
	extrapolation := big.Mul(big.NewInt(int64(delta)), est.VelocityEstimate)
	return big.Add(est.PositionEstimate, big.Rsh(extrapolation, 0))
}
