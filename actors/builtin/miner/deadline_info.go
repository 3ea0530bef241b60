package miner

import (
	abi "github.com/storageminer/specs-actors/actors/abi"
)

// DeadlineInfo locates currEpoch within a miner's proving-period/deadline
// schedule: which deadline is open, when its challenge window opens and
// closes, and when the fault-declaration cutoff for it passes.
type DeadlineInfo struct {
	CurrentEpoch abi.ChainEpoch
	PeriodStart  abi.ChainEpoch
	Index        uint64

	Open      abi.ChainEpoch
	Close     abi.ChainEpoch
	Challenge abi.ChainEpoch

	FaultCutoff abi.ChainEpoch
}

// NewDeadlineInfo computes the open/close/challenge/fault-cutoff epochs for
// deadline deadlineIdx of the proving period starting at periodStart.
func NewDeadlineInfo(periodStart abi.ChainEpoch, deadlineIdx uint64, currEpoch abi.ChainEpoch) *DeadlineInfo {
	info := &DeadlineInfo{
		CurrentEpoch: currEpoch,
		PeriodStart:  periodStart,
		Index:        deadlineIdx,
	}
	if deadlineIdx < WPoStPeriodDeadlines {
		info.Open = periodStart + abi.ChainEpoch(deadlineIdx)*WPoStChallengeWindow
		info.Close = info.Open + WPoStChallengeWindow
		info.Challenge = info.Open - WPoStChallengeLookback
		info.FaultCutoff = info.Open - FaultDeclarationCutoff
	} else {
		// An index past the last deadline describes the period as a whole,
		// already elapsed relative to currEpoch.
		info.Open = periodStart + WPoStProvingPeriod
		info.Close = info.Open
		info.Challenge = info.Open
		info.FaultCutoff = info.Open
	}
	return info
}

// PeriodStarted reports whether the proving period this deadline belongs to
// has actually begun (it hasn't for a freshly-constructed miner whose first
// period start is still in the future).
func (d *DeadlineInfo) PeriodStarted() bool {
	return d.CurrentEpoch >= d.PeriodStart
}

// IsOpen reports whether currEpoch falls within [Open, Close).
func (d *DeadlineInfo) IsOpen() bool {
	return d.CurrentEpoch >= d.Open && d.CurrentEpoch < d.Close
}

// HasElapsed reports whether the deadline's challenge window has closed.
func (d *DeadlineInfo) HasElapsed() bool {
	return d.CurrentEpoch >= d.Close
}

// FaultCutoffPassed reports whether it is too late to declare faults for
// sectors assigned to this deadline.
func (d *DeadlineInfo) FaultCutoffPassed() bool {
	return d.CurrentEpoch >= d.FaultCutoff
}

// Last is the last epoch in the deadline's challenge window.
func (d *DeadlineInfo) Last() abi.ChainEpoch {
	return d.Close - 1
}

// PeriodEnd is the last epoch of the proving period this deadline belongs
// to.
func (d *DeadlineInfo) PeriodEnd() abi.ChainEpoch {
	return d.PeriodStart + WPoStProvingPeriod - 1
}

// NextPeriodStart is the opening epoch of the following proving period.
func (d *DeadlineInfo) NextPeriodStart() abi.ChainEpoch {
	return d.PeriodStart + WPoStProvingPeriod
}

// QuantSpec is the quantization schedule for state (sector expirations,
// fault expirations) assigned to this deadline: aligned on proving-period
// boundaries anchored at this deadline's last epoch (Last).
func (d *DeadlineInfo) QuantSpec() QuantSpec {
	return NewQuantSpec(WPoStProvingPeriod, d.Last())
}

// NextNotElapsed advances d to the next occurrence of the same deadline
// index that has not yet elapsed, repeatedly rolling the period forward by
// WPoStProvingPeriod.
func (d *DeadlineInfo) NextNotElapsed() *DeadlineInfo {
	if !d.HasElapsed() {
		return d
	}
	periodsJumped := (d.CurrentEpoch-d.Close)/WPoStProvingPeriod + 1
	next := NewDeadlineInfo(d.PeriodStart+abi.ChainEpoch(periodsJumped)*WPoStProvingPeriod, d.Index, d.CurrentEpoch)
	return next.NextNotElapsed()
}
