package miner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin"
	"github.com/storageminer/specs-actors/actors/builtin/miner"
	"github.com/storageminer/specs-actors/actors/util/smoothing"
)

func TestPledgePenaltyForTermination(t *testing.T) {
	epochTargetReward := abi.NewTokenAmount(1 << 50)
	qaSectorPower := abi.NewStoragePower(1 << 36)
	networkQAPower := abi.NewStoragePower(1 << 50)

	rewardEstimate := smoothing.TestingConstantEstimate(epochTargetReward)
	powerEstimate := smoothing.TestingConstantEstimate(networkQAPower)

	undeclaredPenalty := miner.PledgePenaltyForUndeclaredFault(rewardEstimate, powerEstimate, qaSectorPower)
	noReplacement := big.Zero()

	t.Run("when undeclared fault fee exceeds expected reward, returns undeclared fault fee", func(t *testing.T) {
		initialPledge := abi.NewTokenAmount(1 << 10)
		dayReward := big.Div(initialPledge, big.NewInt(int64(miner.InitialPledgeFactor)))
		sectorAge := 20 * abi.ChainEpoch(builtin.EpochsInDay)

		fee := miner.PledgePenaltyForTermination(dayReward, sectorAge, big.Zero(), powerEstimate, qaSectorPower, rewardEstimate, noReplacement, 0)

		assert.Equal(t, undeclaredPenalty, fee)
	})

	t.Run("when expected reward exceeds undeclared fault fee, returns expected reward", func(t *testing.T) {
		initialPledge := undeclaredPenalty
		dayReward := big.Div(initialPledge, big.NewInt(int64(miner.InitialPledgeFactor)))
		twentyDayReward := big.Mul(dayReward, big.NewInt(int64(miner.InitialPledgeFactor)))
		sectorAgeInDays := int64(20)
		sectorAge := abi.ChainEpoch(sectorAgeInDays * int64(builtin.EpochsInDay))

		fee := miner.PledgePenaltyForTermination(dayReward, sectorAge, twentyDayReward, powerEstimate, qaSectorPower, rewardEstimate, noReplacement, 0)

		expectedFee := big.Add(
			twentyDayReward,
			big.Div(
				big.Mul(dayReward, big.NewInt(sectorAgeInDays*int64(builtin.EpochsInDay))),
				big.NewInt(int64(builtin.EpochsInDay))))
		assert.Equal(t, expectedFee, fee)
	})

	t.Run("sector age is capped", func(t *testing.T) {
		initialPledge := undeclaredPenalty
		dayReward := big.Div(initialPledge, big.NewInt(int64(miner.InitialPledgeFactor)))
		sectorAgeInDays := int64(500)
		sectorAge := abi.ChainEpoch(sectorAgeInDays * int64(builtin.EpochsInDay))

		fee := miner.PledgePenaltyForTermination(dayReward, sectorAge, big.Zero(), powerEstimate, qaSectorPower, rewardEstimate, noReplacement, 0)

		expectedFee := big.Add(
			big.Zero(),
			big.Div(
				big.Mul(dayReward, big.NewInt(int64(miner.TerminationLifetimeCap)*int64(builtin.EpochsInDay))),
				big.NewInt(int64(builtin.EpochsInDay))))
		assert.Equal(t, expectedFee, fee)
	})

	t.Run("replaced sector age contributes up to the remaining cap", func(t *testing.T) {
		dayReward := abi.NewTokenAmount(1 << 20)
		replacedDayReward := abi.NewTokenAmount(1 << 18)
		sectorAge := 10 * abi.ChainEpoch(builtin.EpochsInDay)
		replacedSectorAge := 200 * abi.ChainEpoch(builtin.EpochsInDay)

		fee := miner.PledgePenaltyForTermination(dayReward, sectorAge, big.Zero(), powerEstimate, qaSectorPower, rewardEstimate, replacedDayReward, replacedSectorAge)

		// the replaced sector's age is capped at whatever remains of the
		// 140-day cap after the live sector's own age is counted.
		remainingDays := int64(miner.TerminationLifetimeCap) - 10
		expectedReward := big.Add(
			big.Mul(dayReward, big.NewInt(10*int64(builtin.EpochsInDay))),
			big.Mul(replacedDayReward, big.NewInt(remainingDays*int64(builtin.EpochsInDay))))
		expectedFee := big.Max(
			undeclaredPenalty,
			big.Div(expectedReward, big.NewInt(int64(builtin.EpochsInDay))))
		assert.Equal(t, expectedFee, fee)
	})
}

func TestPreCommitDepositForPower(t *testing.T) {
	epochTargetReward := abi.NewTokenAmount(1 << 50)
	qaSectorPower := abi.NewStoragePower(1 << 36)
	networkQAPower := abi.NewStoragePower(1 << 50)
	rewardEstimate := smoothing.TestingConstantEstimate(epochTargetReward)
	powerEstimate := smoothing.TestingConstantEstimate(networkQAPower)

	deposit := miner.PreCommitDepositForPower(rewardEstimate, powerEstimate, qaSectorPower)
	assert.True(t, deposit.GreaterThan(big.Zero()))
}

func TestInitialPledgeForPower(t *testing.T) {
	epochTargetReward := abi.NewTokenAmount(1 << 50)
	qaSectorPower := abi.NewStoragePower(1 << 36)
	networkQAPower := abi.NewStoragePower(1 << 50)
	networkBaselinePower := abi.NewStoragePower(1 << 50)
	rewardEstimate := smoothing.TestingConstantEstimate(epochTargetReward)
	powerEstimate := smoothing.TestingConstantEstimate(networkQAPower)
	circSupply := abi.NewTokenAmount(1 << 60)

	pledge := miner.InitialPledgeForPower(qaSectorPower, networkBaselinePower, rewardEstimate, powerEstimate, circSupply)
	assert.True(t, pledge.GreaterThan(big.Zero()))
}
