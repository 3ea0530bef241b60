package builtin

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	abi "github.com/storageminer/specs-actors/actors/abi"
)

// Well-known addresses of the singleton system actors the miner actor talks
// to. In a real deployment these are assigned by the Init actor at genesis;
// fixing them here (as the teacher does) lets every actor package refer to
// its peers without a runtime address-book lookup.
var (
	InitActorAddr           = addr.Address{}
	RewardActorAddr         = addr.Address{}
	StoragePowerActorAddr   = addr.Address{}
	StorageMarketActorAddr  = addr.Address{}
	VerifiedRegistryActorAddr = addr.Address{}
	BurntFundsActorAddr     = addr.Address{}
)

func init() {
	mustID := func(id uint64) addr.Address {
		a, err := addr.NewIDAddress(id)
		if err != nil {
			panic(err)
		}
		return a
	}
	InitActorAddr = mustID(1)
	RewardActorAddr = mustID(2)
	StoragePowerActorAddr = mustID(4)
	StorageMarketActorAddr = mustID(5)
	VerifiedRegistryActorAddr = mustID(6)
	BurntFundsActorAddr = mustID(99)
}

// MethodConstructor is the universal method number for actor construction.
const MethodConstructor = 1

// EpochDurationSeconds is the target block interval; every epoch-denominated
// policy constant is derived from clock durations divided by this.
const EpochDurationSeconds = 30

const SecondsInHour = 60 * 60
const SecondsInDay = 24 * SecondsInHour
const SecondsInYear = 365 * SecondsInDay

// EpochsInHour / EpochsInDay / EpochsInYear convert clock durations into a
// count of epochs at the network's target block time.
const EpochsInHour = abi.ChainEpoch(SecondsInHour / EpochDurationSeconds)
const EpochsInDay = 24 * EpochsInHour
const EpochsInYear = 365 * EpochsInDay

// ExpectedLeadersPerEpoch is the expected number of block producers per
// epoch under the network's consensus algorithm; used to scale the
// consensus fault penalty to "N winner rewards".
const ExpectedLeadersPerEpoch = 5

// CallerTypesSignable lists the actor code CIDs recognized as "a person
// can sign for this": used to gate methods like ReportConsensusFault and
// DisputeWindowedPoSt to externally-ownable accounts, not other contracts.
var CallerTypesSignable = []interface{}{"account", "multisig"}

type ConfirmSectorProofsParams struct {
	Sectors []abi.SectorNumber
}

// MethodsMiner enumerates the miner actor's own method numbers, per §6.1.
var MethodsMiner = struct {
	Constructor                uint64
	ControlAddresses           uint64
	ChangeWorkerAddress        uint64
	ChangePeerID               uint64
	SubmitWindowedPoSt         uint64
	PreCommitSector            uint64
	ProveCommitSector          uint64
	ExtendSectorExpiration     uint64
	TerminateSectors           uint64
	DeclareFaults              uint64
	DeclareFaultsRecovered     uint64
	OnDeferredCronEvent        uint64
	CheckSectorProven          uint64
	ApplyRewards               uint64
	ReportConsensusFault       uint64
	WithdrawBalance            uint64
	ConfirmSectorProofsValid   uint64
	ChangeMultiaddrs           uint64
	CompactPartitions          uint64
	CompactSectorNumbers       uint64
	ConfirmUpdateWorkerKey     uint64
	RepayDebt                  uint64
	ChangeOwnerAddress         uint64
	DisputeWindowedPoSt        uint64
	PreCommitSectorBatch       uint64
	ProveCommitAggregate       uint64
	ProveReplicaUpdates        uint64
	PreCommitSectorBatch2      uint64
	ProveReplicaUpdates2       uint64
	ChangeBeneficiary          uint64
	GetBeneficiary             uint64
	ExtendSectorExpiration2    uint64
}{
	Constructor:              1,
	ControlAddresses:         2,
	ChangeWorkerAddress:      3,
	ChangePeerID:             4,
	SubmitWindowedPoSt:       5,
	PreCommitSector:          6,
	ProveCommitSector:        7,
	ExtendSectorExpiration:   8,
	TerminateSectors:         9,
	DeclareFaults:            10,
	DeclareFaultsRecovered:   11,
	OnDeferredCronEvent:      12,
	CheckSectorProven:        13,
	ApplyRewards:             14,
	ReportConsensusFault:     15,
	WithdrawBalance:          16,
	ConfirmSectorProofsValid: 17,
	ChangeMultiaddrs:         18,
	CompactPartitions:        19,
	CompactSectorNumbers:     20,
	ConfirmUpdateWorkerKey:   21,
	RepayDebt:                22,
	ChangeOwnerAddress:       23,
	DisputeWindowedPoSt:      24,
	PreCommitSectorBatch:     25,
	ProveCommitAggregate:     26,
	ProveReplicaUpdates:      27,
	PreCommitSectorBatch2:    28,
	ProveReplicaUpdates2:     29,
	ChangeBeneficiary:        30,
	GetBeneficiary:           31,
	ExtendSectorExpiration2:  32,
}

// MethodsPower are the Power actor methods the miner actor sends to.
var MethodsPower = struct {
	EnrollCronEvent          uint64
	UpdateClaimedPower       uint64
	UpdatePledgeTotal        uint64
	SubmitPoRepForBulkVerify uint64
	CurrentTotalPower        uint64
}{
	EnrollCronEvent:          2,
	UpdateClaimedPower:       3,
	UpdatePledgeTotal:        4,
	SubmitPoRepForBulkVerify: 5,
	CurrentTotalPower:        6,
}

// MethodsMarket are the Market actor methods the miner actor sends to.
var MethodsMarket = struct {
	VerifyDealsForActivation uint64
	ActivateDeals            uint64
	OnMinerSectorsTerminate  uint64
	ComputeDataCommitment    uint64
}{
	VerifyDealsForActivation: 2,
	ActivateDeals:            3,
	OnMinerSectorsTerminate:  4,
	ComputeDataCommitment:    5,
}

// MethodsAccount are the Account actor methods the miner actor sends to.
var MethodsAccount = struct {
	PubkeyAddress uint64
}{
	PubkeyAddress: 2,
}

// MethodsReward are the Reward actor methods the miner actor sends to.
var MethodsReward = struct {
	ThisEpochReward uint64
}{
	ThisEpochReward: 2,
}

// MethodsVerifiedRegistry are the VerifiedRegistry actor methods the miner
// actor sends to.
var MethodsVerifiedRegistry = struct {
	ClaimAllocations uint64
	GetClaims        uint64
}{
	ClaimAllocations: 2,
	GetClaims:        3,
}

const MethodSend = 0

// Builtin actor code CIDs. Real networks assign these by hashing a
// versioned actor name ("fil/9/storageminer") into an identity-multihash
// CID; we reproduce that shape here so code-CID comparisons in the miner
// actor (owner/worker/control address type checks) behave the same way
// without needing the other actors' full implementations.
func mustBuiltinCodeCID(name string) cid.Cid {
	h, err := mh.Sum([]byte(name), mh.IDENTITY, -1)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, h)
}

var (
	SystemActorCodeID           = mustBuiltinCodeCID("fil/9/system")
	InitActorCodeID             = mustBuiltinCodeCID("fil/9/init")
	CronActorCodeID             = mustBuiltinCodeCID("fil/9/cron")
	AccountActorCodeID          = mustBuiltinCodeCID("fil/9/account")
	StoragePowerActorCodeID     = mustBuiltinCodeCID("fil/9/storagepower")
	StorageMinerActorCodeID     = mustBuiltinCodeCID("fil/9/storageminer")
	StorageMarketActorCodeID    = mustBuiltinCodeCID("fil/9/storagemarket")
	PaymentChannelActorCodeID   = mustBuiltinCodeCID("fil/9/paymentchannel")
	MultisigActorCodeID         = mustBuiltinCodeCID("fil/9/multisig")
	RewardActorCodeID           = mustBuiltinCodeCID("fil/9/reward")
	VerifiedRegistryActorCodeID = mustBuiltinCodeCID("fil/9/verifiedregistry")
)

// principalCodeIDs are the actor types eligible to own or control a miner:
// plain accounts and multisigs, never another built-in singleton.
var principalCodeIDs = map[cid.Cid]struct{}{
	AccountActorCodeID:  {},
	MultisigActorCodeID: {},
}

// IsPrincipal reports whether code is the code CID of an actor type allowed
// to hold owner/worker/control addresses on a miner.
func IsPrincipal(code cid.Cid) bool {
	_, ok := principalCodeIDs[code]
	return ok
}
