package miner

import (
	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin"
	"github.com/storageminer/specs-actors/actors/runtime/exitcode"
	"github.com/storageminer/specs-actors/actors/util/adt"
	"github.com/storageminer/specs-actors/actors/util/math"
	"github.com/storageminer/specs-actors/actors/util/smoothing"
)

// BigFrac is a simple rational multiplier used for the handful of pledge
// and penalty constants that are specified as fractions rather than whole
// numbers.
type BigFrac struct {
	numerator   big.Int
	denominator big.Int
}

// Projection period of expected sector block reward for deposit required to pre-commit a sector.
// This deposit is lost if the pre-commitment is not timely followed up by a commitment proof.
var PreCommitDepositFactor = 20
var PreCommitDepositProjectionPeriod = abi.ChainEpoch(PreCommitDepositFactor) * builtin.EpochsInDay

// Projection period of expected sector block rewards for storage pledge required to commit a sector.
// This pledge is lost if a sector is terminated before its full committed lifetime.
var InitialPledgeFactor = 20
var InitialPledgeProjectionPeriod = abi.ChainEpoch(InitialPledgeFactor) * builtin.EpochsInDay

// Multiplier of share of circulating money supply for consensus pledge required to commit a sector.
var InitialPledgeLockTarget = BigFrac{
	numerator:   big.NewInt(3),
	denominator: big.NewInt(10),
}

// Projection period of expected daily sector block reward penalised for a continued (previously declared) fault.
var ContinuedFaultProjectionPeriod = abi.ChainEpoch((builtin.EpochsInDay * 351) / 100)

// Projection period of expected daily sector block reward penalised when a fault is declared "on time".
var DeclaredFaultFactorNum = 214
var DeclaredFaultFactorDenom = 100
var DeclaredFaultProjectionPeriod = abi.ChainEpoch((builtin.EpochsInDay * DeclaredFaultFactorNum) / DeclaredFaultFactorDenom)

// Amount of fee for faults that have not been declared on time: set higher
// than the declared-fault factor so a miner is always better off declaring
// faults promptly than hoping not to be challenged on them.
var UndeclaredFaultProjectionPeriod = abi.ChainEpoch(5) * builtin.EpochsInDay

// Maximum number of days of BR a terminated sector can be penalized.
const TerminationLifetimeCap = abi.ChainEpoch(140)

// Number of whole per-winner rewards covered by consensus fault penalty.
const ConsensusFaultFactor = 5

// Number of epochs of expected block reward charged as the penalty for a Window PoSt that is successfully disputed.
var InvalidWindowPoStProjectionPeriod = abi.ChainEpoch((builtin.EpochsInDay * 15) / 10)

// Flat reward paid to whoever successfully disputes a bad Window PoSt.
var BaseRewardForDisputedWindowPoSt = big.Mul(big.NewInt(4), big.NewInt(1e15)) // 0.004 FIL

// Fraction of the consensus fault penalty awarded to whoever reports it.
var RewardForConsensusSlashReportFraction = BigFrac{numerator: big.NewInt(1), denominator: big.NewInt(20)}

// Fee charged per sector batched into an aggregate ProveCommitAggregate call,
// discouraging single-sector aggregates while not meaningfully taxing large ones.
var AggregateNetworkFeeBase = big.Mul(big.NewInt(10), big.NewInt(1e12))

// BRSmoothed(t) = CurrEpochReward(t) * SectorQualityAdjustedPower * EpochsInDay / TotalNetworkQualityAdjustedPower(t)
// the expected reward this sector would pay out over a given projection period.
func ExpectedRewardForPower(rewardEstimate, networkQAPowerEstimate *smoothing.FilterEstimate, qaSectorPower abi.StoragePower, projectionDuration abi.ChainEpoch) abi.TokenAmount {
	networkQAPowerSmoothed := networkQAPowerEstimate.Estimate()
	if networkQAPowerSmoothed.IsZero() {
		return rewardEstimate.Estimate()
	}
	expectedRewardForProvingPeriod := smoothing.ExtrapolatedCumSumOfRatio(projectionDuration, 0, rewardEstimate, networkQAPowerEstimate)
	br128 := big.Mul(qaSectorPower, expectedRewardForProvingPeriod) // Q.0 * Q.128 => Q.128
	br := big.Rsh(br128, math.Precision)
	return big.Max(br, big.Zero()) // negative BR is clamped at 0
}

// PledgePenaltyForContinuedFault is the FF(t) penalty for a sector that
// remains faulty having already been detected (as opposed to a newly
// declared fault): FF(t) = ContinuedFaultFactor * BR(t)
func PledgePenaltyForContinuedFault(rewardEstimate, networkQAPowerEstimate *smoothing.FilterEstimate, qaSectorPower abi.StoragePower) abi.TokenAmount {
	return ExpectedRewardForPower(rewardEstimate, networkQAPowerEstimate, qaSectorPower, ContinuedFaultProjectionPeriod)
}

// PledgePenaltyForDeclaredFault is the FF(t) penalty for a sector newly
// declared faulty on time: FF(t) = DeclaredFaultFactor * BR(t)
func PledgePenaltyForDeclaredFault(rewardEstimate, networkQAPowerEstimate *smoothing.FilterEstimate, qaSectorPower abi.StoragePower) abi.TokenAmount {
	return ExpectedRewardForPower(rewardEstimate, networkQAPowerEstimate, qaSectorPower, DeclaredFaultProjectionPeriod)
}

// PledgePenaltyForUndeclaredFault is the SP(t) penalty for a newly faulty
// sector whose fault was never declared (detected instead via a missed
// Window PoSt): SP(t) = UndeclaredFaultFactor * BR(t)
func PledgePenaltyForUndeclaredFault(rewardEstimate, networkQAPowerEstimate *smoothing.FilterEstimate, qaSectorPower abi.StoragePower) abi.TokenAmount {
	return ExpectedRewardForPower(rewardEstimate, networkQAPowerEstimate, qaSectorPower, UndeclaredFaultProjectionPeriod)
}

// PledgePenaltyForInvalidWindowPoSt is charged against a miner whose
// Window PoSt is successfully disputed after having been accepted: a
// stiffer fee than an undeclared fault since the miner actively claimed
// the sectors were proven.
func PledgePenaltyForInvalidWindowPoSt(rewardEstimate, networkQAPowerEstimate *smoothing.FilterEstimate, qaSectorPower abi.StoragePower) abi.TokenAmount {
	return ExpectedRewardForPower(rewardEstimate, networkQAPowerEstimate, qaSectorPower, InvalidWindowPoStProjectionPeriod)
}

// PledgePenaltyForTermination is the penalty to locked pledge collateral
// for terminating a sector before its scheduled expiry. sectorAge is the
// time between the sector's activation and termination; replacedDayReward
// and replacedSectorAge describe a replaced sector from a capacity
// upgrade and must be zero if none occurred.
func PledgePenaltyForTermination(dayReward abi.TokenAmount, sectorAge abi.ChainEpoch,
	twentyDayRewardAtActivation abi.TokenAmount, networkQAPowerEstimate *smoothing.FilterEstimate,
	qaSectorPower abi.StoragePower, rewardEstimate *smoothing.FilterEstimate, replacedDayReward abi.TokenAmount,
	replacedSectorAge abi.ChainEpoch,
) abi.TokenAmount {
	// max(SP(t), BR(StartEpoch, 20d) + BR(StartEpoch, 1d)*min(SectorAgeInDays, cap))
	lifetimeCap := TerminationLifetimeCap * builtin.EpochsInDay
	cappedSectorAge := minEpoch(sectorAge, lifetimeCap)
	expectedReward := big.Mul(dayReward, big.NewInt(int64(cappedSectorAge)))
	relevantReplacedAge := minEpoch(replacedSectorAge, lifetimeCap-cappedSectorAge)
	expectedReward = big.Add(expectedReward, big.Mul(replacedDayReward, big.NewInt(int64(relevantReplacedAge))))

	return big.Max(
		PledgePenaltyForUndeclaredFault(rewardEstimate, networkQAPowerEstimate, qaSectorPower),
		big.Add(
			twentyDayRewardAtActivation,
			big.Div(expectedReward, big.NewInt(int64(builtin.EpochsInDay)))))
}

// PreCommitDepositForPower is the PreCommit deposit given sector qa weight
// and current network conditions: PreCommit Deposit = BR(PreCommitDepositProjectionPeriod)
func PreCommitDepositForPower(rewardEstimate, networkQAPowerEstimate *smoothing.FilterEstimate, qaSectorPower abi.StoragePower) abi.TokenAmount {
	return ExpectedRewardForPower(rewardEstimate, networkQAPowerEstimate, qaSectorPower, PreCommitDepositProjectionPeriod)
}

// InitialPledgeForPower computes the pledge requirement for committing new
// quality-adjusted power to the network, given the current network total
// and baseline power, per-epoch reward, and circulating token supply.
//
// IP = IPBase(t) + AdditionalIP(t)
// IPBase(t) = BR(t, InitialPledgeProjectionPeriod)
// AdditionalIP(t) = LockTarget(t) * PledgeShare(t)
// LockTarget = (LockTargetFactorNum / LockTargetFactorDenom) * FILCirculatingSupply(t)
// PledgeShare(t) = sectorQAPower / max(BaselinePower(t), NetworkQAPower(t))
func InitialPledgeForPower(qaPower, baselinePower abi.StoragePower, rewardEstimate, networkQAPowerEstimate *smoothing.FilterEstimate, circulatingSupply abi.TokenAmount) abi.TokenAmount {
	ipBase := ExpectedRewardForPower(rewardEstimate, networkQAPowerEstimate, qaPower, InitialPledgeProjectionPeriod)

	lockTargetNum := big.Mul(InitialPledgeLockTarget.numerator, circulatingSupply)
	lockTargetDenom := InitialPledgeLockTarget.denominator
	pledgeShareNum := qaPower
	networkQAPower := networkQAPowerEstimate.Estimate()
	pledgeShareDenom := big.Max(big.Max(networkQAPower, baselinePower), qaPower) // use qaPower in case others are 0
	additionalIPNum := big.Mul(lockTargetNum, pledgeShareNum)
	additionalIPDenom := big.Mul(lockTargetDenom, pledgeShareDenom)
	additionalIP := big.Div(additionalIPNum, additionalIPDenom)

	return big.Add(ipBase, additionalIP)
}

// RewardForDisputedWindowPost is the reward paid to whoever successfully
// disputes a previously-accepted, invalid Window PoSt: the flat
// BaseRewardForDisputedWindowPoSt, whatever the proof type or the
// disputed power. It includes no share of the resulting penalty.
func RewardForDisputedWindowPost(proofType abi.RegisteredPoStProof, disputedPower PowerPair) abi.TokenAmount {
	return BaseRewardForDisputedWindowPoSt
}

// ConsensusFaultReportingWindow bounds how long a reporter's share of the
// slash penalty keeps growing with the fault's age before saturating at
// the full RewardForConsensusSlashReportFraction: a fault reported the
// epoch after it happened earns proportionally less than one reported
// near the end of the window.
var ConsensusFaultReportingWindow = 20 * builtin.EpochsInDay

// RewardForConsensusSlashReport is the share of a consensus fault penalty
// awarded to the reporter of the fault, scaled by how long the fault went
// unreported.
func RewardForConsensusSlashReport(elapsedEpoch abi.ChainEpoch, penalty abi.TokenAmount) abi.TokenAmount {
	age := elapsedEpoch
	if age < 0 {
		age = 0
	}
	if age > ConsensusFaultReportingWindow {
		age = ConsensusFaultReportingWindow
	}
	full := big.Div(
		big.Mul(penalty, RewardForConsensusSlashReportFraction.numerator),
		RewardForConsensusSlashReportFraction.denominator,
	)
	return big.Div(big.Mul(full, big.NewInt(int64(age))), big.NewInt(int64(ConsensusFaultReportingWindow)))
}

// AggregateProveCommitNetworkFee is the per-message fee charged for
// aggregating aggregateSize sector proofs into a single ProveCommitAggregate
// call, scaled by the current base fee like any other network fee.
func AggregateProveCommitNetworkFee(aggregateSize int, baseFee abi.TokenAmount) abi.TokenAmount {
	return aggregateNetworkFee(aggregateSize, baseFee)
}

// AggregateProveReplicaUpdatesNetworkFee is the equivalent per-message fee
// for aggregated ProveReplicaUpdates calls.
func AggregateProveReplicaUpdatesNetworkFee(nUpdates int, baseFee abi.TokenAmount) abi.TokenAmount {
	return aggregateNetworkFee(nUpdates, baseFee)
}

// AggregatePreCommitNetworkFee is the equivalent per-message fee charged
// only when a PreCommitSectorBatch(2) call actually batches more than one
// sector; a lone pre-commit pays no aggregation surcharge.
func AggregatePreCommitNetworkFee(aggregateSize int, baseFee abi.TokenAmount) abi.TokenAmount {
	return aggregateNetworkFee(aggregateSize, baseFee)
}

func aggregateNetworkFee(batchSize int, baseFee abi.TokenAmount) abi.TokenAmount {
	return big.Mul(big.NewInt(int64(batchSize)), big.Mul(AggregateNetworkFeeBase, big.Div(baseFee, big.NewInt(1e9))))
}

// LockedRewardFromReward splits a block reward payout into the portion that
// is locked up over RewardVestingSpec and the vesting schedule it is locked
// under. The network currently locks the entire reward; nothing is paid out
// immediately, matching ApplyRewards' historical AddLockedFund behavior.
func LockedRewardFromReward(reward abi.TokenAmount) (abi.TokenAmount, *VestSpec) {
	return reward, &RewardVestingSpec
}

// VerifyPledgeRequirementsAndRepayDebts repays all fee debt and then
// verifies that the miner has enough left to cover its pledge requirement.
// Aborts if not. Returns the amount that must be burnt by the actor.
//
// This does not compute recent vesting, so the reported unlocked balance
// may run slightly low; vesting is quantized to roughly daily units, so it
// is at most one proving period stale when this runs from the cron
// callback.
func VerifyPledgeRequirementsAndRepayDebts(rt Runtime, st *State) abi.TokenAmount {
	store := adt.AsStore(rt)
	currBalance := rt.CurrentBalance()
	toBurn, err := st.RepayPartialDebtInPriorityOrder(store, rt.CurrEpoch(), currBalance)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "unlocked balance can not repay fee debt")

	currBalance = big.Sub(currBalance, toBurn)
	available := st.GetAvailableBalance(currBalance)
	if available.LessThan(st.InitialPledge) {
		rt.Abortf(exitcode.ErrInsufficientFunds, "unlocked balance does not cover pledge requirements")
	}
	return toBurn
}

func ConsensusFaultPenalty(thisEpochReward abi.TokenAmount) abi.TokenAmount {
	return big.Div(
		big.Mul(thisEpochReward, big.NewInt(ConsensusFaultFactor)),
		big.NewInt(int64(builtin.ExpectedLeadersPerEpoch)),
	)
}
