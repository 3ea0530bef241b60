package miner

import (
	"io"
	"sort"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin"
	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
)

// VestingFund is a single amount locked until Epoch, as pledge collateral
// or block reward vesting.
type VestingFund struct {
	Epoch  abi.ChainEpoch
	Amount abi.TokenAmount
}

// VestingFunds is a single CBOR-addressed object (not an AMT: the number of
// distinct vesting epochs a miner ever has outstanding is bounded by the
// vesting spec's table length times the number of proving periods covered,
// small enough to keep as one flat, epoch-sorted slice) holding every not-
// yet-vested locked fund.
type VestingFunds struct {
	Funds []VestingFund
}

func (t *VestingFunds) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *VestingFunds) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

func ConstructVestingFunds() *VestingFunds {
	return &VestingFunds{Funds: nil}
}

// VestSpec describes how a locked quantity unlocks over time: an initial
// delay, then installments every StepDuration epochs, each vesting epoch
// rounded up to a multiple of Quantization, until the full VestPeriod has
// elapsed.
type VestSpec struct {
	InitialDelay abi.ChainEpoch
	VestPeriod   abi.ChainEpoch
	StepDuration abi.ChainEpoch
	Quantization abi.ChainEpoch
}

var (
	// RewardVestingSpec governs block-reward vesting: a six-month linear
	// vest with no initial delay, in line with the network's reward lock-up
	// policy.
	RewardVestingSpec = VestSpec{
		InitialDelay: 0,
		VestPeriod:   180 * builtin.EpochsInDay,
		StepDuration: builtin.EpochsInDay,
		Quantization: 12 * 60 / (builtin.EpochDurationSeconds),
	}
	// PledgeVestingSpec governs pledge-collateral vesting on termination
	// refunds and similar one-shot unlocks: immediate and unquantized.
	PledgeVestingSpec = VestSpec{
		InitialDelay: 0,
		VestPeriod:   1,
		StepDuration: 1,
		Quantization: 1,
	}
)

// AddLockedFunds schedules vestingSum to unlock according to spec, starting
// from currEpoch, merging into any already-scheduled installments at the
// same quantized epoch, and returns the total still-unvested after adding.
func (vf *VestingFunds) AddLockedFunds(currEpoch abi.ChainEpoch, vestingSum abi.TokenAmount, spec VestSpec) abi.TokenAmount {
	vestBegin := currEpoch + spec.InitialDelay
	vestPeriod := spec.VestPeriod
	if vestPeriod == 0 {
		vestPeriod = 1
	}
	stepDuration := spec.StepDuration
	if stepDuration == 0 {
		stepDuration = 1
	}
	quant := NewQuantSpec(spec.Quantization, 0)
	if spec.Quantization == 0 {
		quant = NewQuantSpec(1, 0)
	}

	steps := vestPeriod / stepDuration
	if steps == 0 {
		steps = 1
	}
	amountPerStep := big.Div(vestingSum, big.NewInt(int64(steps)))
	vested := big.Zero()

	byEpoch := map[abi.ChainEpoch]abi.TokenAmount{}
	for i := abi.ChainEpoch(0); i < steps; i++ {
		epoch := quant.QuantizeUp(vestBegin + (i+1)*stepDuration)
		amt := amountPerStep
		if i == steps-1 {
			amt = big.Sub(vestingSum, vested)
		} else {
			vested = big.Add(vested, amountPerStep)
		}
		byEpoch[epoch] = big.Add(byEpoch[epoch], amt)
	}

	for epoch, amt := range byEpoch {
		vf.addLockedFundEntry(epoch, amt)
	}
	vf.sort()
	return vf.unvestedSum()
}

func (vf *VestingFunds) addLockedFundEntry(epoch abi.ChainEpoch, amount abi.TokenAmount) {
	for i := range vf.Funds {
		if vf.Funds[i].Epoch == epoch {
			vf.Funds[i].Amount = big.Add(vf.Funds[i].Amount, amount)
			return
		}
	}
	vf.Funds = append(vf.Funds, VestingFund{Epoch: epoch, Amount: amount})
}

func (vf *VestingFunds) sort() {
	sort.Slice(vf.Funds, func(i, j int) bool { return vf.Funds[i].Epoch < vf.Funds[j].Epoch })
}

func (vf *VestingFunds) unvestedSum() abi.TokenAmount {
	sum := big.Zero()
	for _, f := range vf.Funds {
		sum = big.Add(sum, f.Amount)
	}
	return sum
}

// UnlockVestedFunds removes and sums every installment due at or before
// currEpoch.
func (vf *VestingFunds) UnlockVestedFunds(currEpoch abi.ChainEpoch) abi.TokenAmount {
	amountUnlocked := big.Zero()
	var remaining []VestingFund
	for _, f := range vf.Funds {
		if f.Epoch <= currEpoch {
			amountUnlocked = big.Add(amountUnlocked, f.Amount)
		} else {
			remaining = append(remaining, f)
		}
	}
	vf.Funds = remaining
	return amountUnlocked
}

// UnvestedFunds returns the sum of all not-yet-unlocked installments.
func (vf *VestingFunds) UnvestedFunds() abi.TokenAmount {
	return vf.unvestedSum()
}

// RemoveVestingFunds removes up to target from the vesting schedule,
// earliest-unlocking first, for termination-fee and declared-fault
// penalties that pull collateral out of the vesting vesting table before it
// unlocks naturally. Returns the amount actually removed.
func (vf *VestingFunds) RemoveVestingFunds(currEpoch abi.ChainEpoch, target abi.TokenAmount) abi.TokenAmount {
	vf.sort()
	removed := big.Zero()
	var remaining []VestingFund
	for _, f := range vf.Funds {
		if removed.GreaterThanEqual(target) {
			remaining = append(remaining, f)
			continue
		}
		need := big.Sub(target, removed)
		if f.Amount.LessThanEqual(need) {
			removed = big.Add(removed, f.Amount)
			continue
		}
		removed = big.Add(removed, need)
		remaining = append(remaining, VestingFund{Epoch: f.Epoch, Amount: big.Sub(f.Amount, need)})
	}
	vf.Funds = remaining
	return removed
}
