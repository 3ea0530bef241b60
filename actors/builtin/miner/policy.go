// +build !testground

package miner

import (
	"fmt"

	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin"
)

// The period over which all a miner's active sectors will be challenged.
const WPoStProvingPeriod = abi.ChainEpoch(builtin.EpochsInDay)

// The duration of a deadline's challenge window, the period before a
// deadline when the challenge is available.
const WPoStChallengeWindow = abi.ChainEpoch(30 * 60 / builtin.EpochDurationSeconds)

// The number of non-overlapping PoSt deadlines in each proving period.
const WPoStPeriodDeadlines = uint64(48)

// The maximum age of a fault before the sector is terminated.
const FaultMaxAge = WPoStProvingPeriod * 14

// PreCommitChallengeDelay is the number of epochs between publishing a
// pre-commitment and when the interactive PoRep challenge is drawn, chosen
// so it cannot be predicted by the miner at pre-commit time.
const PreCommitChallengeDelay = abi.ChainEpoch(150)

// WPoStChallengeLookback is how many epochs before a deadline's challenge
// window opens the challenge randomness is drawn from, so it is stable by
// the time proving starts.
const WPoStChallengeLookback = abi.ChainEpoch(20)

// FaultDeclarationCutoff is how close to a deadline's challenge window a
// fault may still be declared (rather than only discovered by a missed
// PoSt).
const FaultDeclarationCutoff = abi.ChainEpoch(WPoStChallengeLookback + 50)

// WorkerKeyChangeDelay is the number of epochs a pending worker-key change
// must wait before it takes effect.
const WorkerKeyChangeDelay = 2 * builtin.EpochsInDay

// MaxPreCommitRandomnessLookback bounds how stale the seal randomness named
// in a pre-commitment may be.
const MaxPreCommitRandomnessLookback = builtin.EpochsInDay + PreCommitChallengeDelay

// MinSectorExpiration is the minimum number of epochs past activation a
// sector's committed expiration may be.
const MinSectorExpiration = 180 * builtin.EpochsInDay

// MaxSectorExpirationExtension bounds how far a sector's expiration may be
// pushed out by ExtendSectorExpiration relative to the current epoch.
const MaxSectorExpirationExtension = 546 * builtin.EpochsInDay

// ChainFinality is the number of epochs after which a block is consensus
// final; bounds how far back consensus-fault evidence may reach and gates
// the SectorKeyCID availability for replica updates.
const ChainFinality = abi.ChainEpoch(900)

// MaxAggregatedSectors / MinAggregatedSectors bound a single
// ProveCommitAggregate batch.
const MaxAggregatedSectors = 819
const MinAggregatedSectors = 4

// MaxPreCommitBatchSize bounds a single PreCommitSectorBatch(2) call.
const MaxPreCommitBatchSize = 256

// MaxProveCommitSize bounds the proof bytes a single (non-aggregated)
// ProveCommitSector call may carry.
const MaxProveCommitSize = 1920

// MaxAggregateProofSize bounds the proof bytes ProveCommitAggregate may
// carry, sized for the largest SNARK produced by aggregating
// MaxAggregatedSectors individual seal proofs together.
const MaxAggregateProofSize = 81960

// DealLimitDenominator is used to derive the maximum number of deals a
// sector of a given size may carry from the number of 32-byte-equivalent
// "sectors" it represents.
const dealLimitDenominator = 34350000000 // 32GiB sector / 1 deal-unit, scaled

// SectorsMax bounds how many sectors a single miner actor may hold live.
const SectorsMax = 32 << 20 // 32M sectors (32 PiB at 1 GiB sectors)

// AddressedSectorsMax / AddressedPartitionsMax bound how much sector
// bitfield / partition-count data a single message touches at once, so its
// execution gas and validation bitfield size remain bounded.
const AddressedSectorsMax = 25_000
const AddressedPartitionsMax = 4 // overridden per-proof below via loadPartitionsSectorsMax family

// DeclarationsMax bounds the number of per-deadline declarations in a
// single DeclareFaults / DeclareFaultsRecovered call.
const DeclarationsMax = 3000

// WPoStDisputeWindow is how long after a deadline closes a third party may
// dispute an accepted Window PoSt (§ SUPPLEMENTED FEATURES).
const WPoStDisputeWindow = 2 * builtin.EpochsInDay

// EndOfLifeClaimDropPeriod bounds how close to its current expiration a
// sector must be before ExtendSectorExpiration2 permits dropping its
// verified-deal allocation claims rather than requiring the caller to keep
// proving them (§
// SUPPLEMENTED FEATURES).
const EndOfLifeClaimDropPeriod = 30 * builtin.EpochsInDay

// MaxControlAddresses bounds how many control addresses a miner may
// register, each able to submit PoSts and declare faults on its behalf.
const MaxControlAddresses = 10

// MaxPeerIDLength bounds the libp2p peer ID a miner may advertise.
const MaxPeerIDLength = 128

// MaxMultiaddrData bounds the combined encoded size of a miner's
// advertised multiaddrs.
const MaxMultiaddrData = 4096

// SealedCIDPrefix is the only CID prefix accepted for a sealed sector
// commitment (Filecoin-specific codec/hash/version combination).
var SealedCIDPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.FilCommitmentSealed,
	MhType:   mh.POSEIDON_BLS12_381_A1_FC1,
	MhLength: 32,
}

// SupportedProofTypes are the seal proof types new miner actors may be
// constructed with; older/smaller proof types are retained only for
// existing miners.
var SupportedProofTypes = map[abi.RegisteredSealProof]struct{}{
	abi.RegisteredSealProof_StackedDrg32GiBV1_1: {},
	abi.RegisteredSealProof_StackedDrg64GiBV1_1: {},
}

// MaxProveCommitDuration bounds, per seal proof type, how long after
// pre-commit a ProveCommitSector may arrive.
var MaxProveCommitDuration = map[abi.RegisteredSealProof]abi.ChainEpoch{
	abi.RegisteredSealProof_StackedDrg2KiBV1:    builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg8MiBV1:    builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg512MiBV1:  builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg32GiBV1:   30*builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg64GiBV1:   30*builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg2KiBV1_1:   builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg8MiBV1_1:   builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg512MiBV1_1: builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg32GiBV1_1:  30*builtin.EpochsInDay + PreCommitChallengeDelay,
	abi.RegisteredSealProof_StackedDrg64GiBV1_1:  30*builtin.EpochsInDay + PreCommitChallengeDelay,
}

// SealProofWindowPoStPartitionSectors is the number of sectors assigned per
// partition for a given seal proof type's corresponding Window PoSt proof.
func SealProofWindowPoStPartitionSectors(proof abi.RegisteredSealProof) (uint64, error) {
	switch proof {
	case abi.RegisteredSealProof_StackedDrg2KiBV1, abi.RegisteredSealProof_StackedDrg2KiBV1_1:
		return 2, nil
	case abi.RegisteredSealProof_StackedDrg8MiBV1, abi.RegisteredSealProof_StackedDrg8MiBV1_1:
		return 2, nil
	case abi.RegisteredSealProof_StackedDrg512MiBV1, abi.RegisteredSealProof_StackedDrg512MiBV1_1:
		return 2, nil
	case abi.RegisteredSealProof_StackedDrg32GiBV1, abi.RegisteredSealProof_StackedDrg32GiBV1_1:
		return 2349, nil
	case abi.RegisteredSealProof_StackedDrg64GiBV1, abi.RegisteredSealProof_StackedDrg64GiBV1_1:
		return 2300, nil
	default:
		return 0, fmt.Errorf("no partition size for proof type %d", proof)
	}
}

// SectorDealsMax bounds the number of deals a single sector of the given
// size may carry.
func SectorDealsMax(size abi.SectorSize) uint64 {
	return uint64(256)
}

// loadPartitionsSectorsMax bounds how many partitions a single
// SubmitWindowedPoSt (or CompactPartitions) may touch, scaled so the total
// sector bitfield handled per message stays bounded regardless of
// partition size.
func loadPartitionsSectorsMax(partitionSectors uint64) uint64 {
	if partitionSectors == 0 {
		return AddressedPartitionsMax
	}
	limit := AddressedSectorsMax / partitionSectors
	if limit < 1 {
		return 1
	}
	return limit
}

// QAPowerForWeight computes quality-adjusted power for a sector of the
// given size, lifetime and deal weights: each byte-epoch of verified deal
// space counts 10x raw, ordinary deal space counts 1x, and unused space
// counts 1x, all normalized by the sector's duration.
func QAPowerForWeight(size abi.SectorSize, duration abi.ChainEpoch, dealWeight, verifiedWeight abi.DealWeight) abi.StoragePower {
	durationInt := big.NewInt(int64(duration))
	sectorSpaceTime := big.Mul(big.NewIntUnsigned(uint64(size)), durationInt)
	totalDealSpaceTime := big.Add(dealWeight, verifiedWeight)
	weightedSumSpaceTime := big.Add(
		big.Mul(big.Sub(sectorSpaceTime, totalDealSpaceTime), QualityBaseMultiplier),
		big.Add(
			big.Mul(dealWeight, DealWeightMultiplier),
			big.Mul(verifiedWeight, VerifiedDealWeightMultiplier),
		),
	)
	scaledUpWeightedSumSpaceTime := big.Div(weightedSumSpaceTime, QualityBaseMultiplier)
	if duration == 0 {
		return big.Zero()
	}
	return big.Div(scaledUpWeightedSumSpaceTime, durationInt)
}

// QAPowerForSector is QAPowerForWeight applied to an on-chain sector's own
// recorded lifetime and deal weights.
func QAPowerForSector(size abi.SectorSize, sector *SectorOnChainInfo) abi.StoragePower {
	duration := sector.Expiration - sector.Activation
	return QAPowerForWeight(size, duration, sector.DealWeight, sector.VerifiedDealWeight)
}

var QualityBaseMultiplier = big.NewInt(10)
var DealWeightMultiplier = big.NewInt(10)
var VerifiedDealWeightMultiplier = big.NewInt(100)
