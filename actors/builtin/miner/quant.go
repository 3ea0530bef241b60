package miner

import abi "github.com/storageminer/specs-actors/actors/abi"

// QuantSpec quantizes epochs up to the next deadline-aligned checkpoint, so
// that the expiration/fault/early-termination queues only ever need to be
// consulted once per deadline rather than once per epoch.
type QuantSpec struct {
	unit   abi.ChainEpoch
	offset abi.ChainEpoch
}

func NewQuantSpec(unit, offset abi.ChainEpoch) QuantSpec {
	return QuantSpec{unit: unit, offset: offset}
}

// QuantizeUp rounds e up to the next epoch congruent to offset mod unit.
func (q QuantSpec) QuantizeUp(e abi.ChainEpoch) abi.ChainEpoch {
	if q.unit == 0 {
		return e
	}
	offset := q.offset % q.unit
	remainder := (e - offset) % q.unit
	if remainder == 0 {
		return e
	}
	quotient := (e - offset) / q.unit
	if e-offset < 0 {
		return offset + quotient*q.unit
	}
	return offset + (quotient+1)*q.unit
}

// NoQuantization performs no rounding; used for queues (like the
// pre-commit expiry queue) that aren't tied to a deadline schedule.
var NoQuantization = QuantSpec{unit: 1, offset: 0}
