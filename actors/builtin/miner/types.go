package miner

import (
	"io"

	addr "github.com/filecoin-project/go-address"
	cid "github.com/ipfs/go-cid"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
)

// MinerInfo is the CID-addressed, infrequently-changed identity record for a
// miner actor: its owner/worker/control keys, peer info and proof type.
// Stored separately from State so that changing it (a relatively rare
// event) doesn't force a rewrite of the much larger sector/deadline state.
type MinerInfo struct {
	Owner                      addr.Address
	Worker                     addr.Address
	ControlAddresses           []addr.Address
	PendingWorkerKey           *WorkerKeyChange
	PeerId                     abi.PeerID
	Multiaddrs                 []abi.Multiaddrs
	SealProofType              abi.RegisteredSealProof
	SectorSize                 abi.SectorSize
	WindowPoStPartitionSectors uint64
	ConsensusFaultElapsed      abi.ChainEpoch

	PendingOwnerAddress *addr.Address
	Beneficiary         addr.Address
	BeneficiaryTerm     BeneficiaryTerm
	PendingBeneficiaryTerm *PendingBeneficiaryChange
}

func (t *MinerInfo) MarshalCBOR(w io.Writer) error    { return cborutil.Marshal(w, t) }
func (t *MinerInfo) UnmarshalCBOR(r io.Reader) error   { return cborutil.Unmarshal(r, t) }

// WorkerKeyChange records a worker-address change requested via
// ChangeWorkerAddress, pending confirmation at EffectiveAt.
type WorkerKeyChange struct {
	NewWorker   addr.Address
	EffectiveAt abi.ChainEpoch
}

// BeneficiaryTerm bounds how much, and until when, a beneficiary distinct
// from the owner may draw down a miner's rewards (§ SUPPLEMENTED FEATURES:
// ChangeBeneficiary).
type BeneficiaryTerm struct {
	Quota      abi.TokenAmount
	UsedQuota  abi.TokenAmount
	Expiration abi.ChainEpoch
}

// PendingBeneficiaryChange is a two-phase proposal to install a new
// beneficiary: the owner proposes, then the proposed beneficiary (unless it
// is the owner itself) must separately confirm.
type PendingBeneficiaryChange struct {
	NewBeneficiary        addr.Address
	NewQuota              abi.TokenAmount
	NewExpiration         abi.ChainEpoch
	ApprovedByBeneficiary bool
	ApprovedByNominee     bool
}

func ConstructMinerInfo(owner, worker addr.Address, controlAddrs []addr.Address, peerId abi.PeerID, multiaddrs []abi.Multiaddrs, sealProofType abi.RegisteredSealProof) (*MinerInfo, error) {
	sectorSize, err := sealProofType.SectorSize()
	if err != nil {
		return nil, err
	}
	partitionSectors, err := SealProofWindowPoStPartitionSectors(sealProofType)
	if err != nil {
		return nil, err
	}
	return &MinerInfo{
		Owner:                      owner,
		Worker:                     worker,
		ControlAddresses:           controlAddrs,
		PendingWorkerKey:           nil,
		PeerId:                     peerId,
		Multiaddrs:                 multiaddrs,
		SealProofType:              sealProofType,
		SectorSize:                 sectorSize,
		WindowPoStPartitionSectors: partitionSectors,
		Beneficiary:                owner,
		BeneficiaryTerm:            BeneficiaryTerm{Quota: big.Zero(), UsedQuota: big.Zero(), Expiration: 0},
	}, nil
}

// SectorPreCommitInfo are the parameters supplied to PreCommitSector,
// describing a not-yet-proven sector.
type SectorPreCommitInfo struct {
	SealProof       abi.RegisteredSealProof
	SectorNumber    abi.SectorNumber
	SealedCID       cid.Cid
	SealRandEpoch   abi.ChainEpoch
	DealIDs         []abi.DealID
	Expiration      abi.ChainEpoch
	UnsealedCid     *cid.Cid

	ReplaceCapacity       bool
	ReplaceSectorDeadline uint64
	ReplaceSectorPartition uint64
	ReplaceSectorNumber   abi.SectorNumber
}

func (t *SectorPreCommitInfo) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *SectorPreCommitInfo) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

// SectorPreCommitOnChainInfo is the on-chain record of a pre-commitment:
// the original params plus the deposit and deal-weight computed at the time
// of pre-commit.
type SectorPreCommitOnChainInfo struct {
	Info               SectorPreCommitInfo
	PreCommitDeposit    abi.TokenAmount
	PreCommitEpoch      abi.ChainEpoch
	DealWeight          abi.DealWeight
	VerifiedDealWeight  abi.DealWeight
}

func (t *SectorPreCommitOnChainInfo) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *SectorPreCommitOnChainInfo) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

// SectorOnChainInfo is the durable record of an activated (proven) sector.
type SectorOnChainInfo struct {
	SectorNumber          abi.SectorNumber
	SealProof             abi.RegisteredSealProof
	SealedCID             cid.Cid
	DealIDs               []abi.DealID
	Activation            abi.ChainEpoch
	Expiration            abi.ChainEpoch
	DealWeight            abi.DealWeight
	VerifiedDealWeight    abi.DealWeight
	InitialPledge         abi.TokenAmount
	ExpectedDayReward     abi.TokenAmount
	ExpectedStoragePledge abi.TokenAmount
	ReplacedSectorAge     abi.ChainEpoch
	ReplacedDayReward     abi.TokenAmount
	SectorKeyCID          *cid.Cid
	SimpleQAPower         bool
}

func (t *SectorOnChainInfo) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *SectorOnChainInfo) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

// PowerPair bundles a raw-byte and quality-adjusted power value that always
// travel together: every place power changes hands, both numbers move.
type PowerPair struct {
	Raw abi.StoragePower
	QA  abi.StoragePower
}

func NewPowerPairZero() PowerPair { return PowerPair{Raw: big.Zero(), QA: big.Zero()} }

func (pp PowerPair) Add(other PowerPair) PowerPair {
	return PowerPair{Raw: big.Add(pp.Raw, other.Raw), QA: big.Add(pp.QA, other.QA)}
}

func (pp PowerPair) Sub(other PowerPair) PowerPair {
	return PowerPair{Raw: big.Sub(pp.Raw, other.Raw), QA: big.Sub(pp.QA, other.QA)}
}

func (pp PowerPair) Neg() PowerPair {
	return PowerPair{Raw: pp.Raw.Neg(), QA: pp.QA.Neg()}
}

func (pp PowerPair) IsZero() bool {
	return pp.Raw.IsZero() && pp.QA.IsZero()
}

func (pp PowerPair) Equals(other PowerPair) bool {
	return pp.Raw.Equals(other.Raw) && pp.QA.Equals(other.QA)
}

func (t *PowerPair) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *PowerPair) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

// DealWeights is the result of asking the market actor to weigh a batch of
// deals destined for a not-yet-proven sector.
type DealWeights struct {
	DealWeight         abi.DealWeight
	VerifiedDealWeight abi.DealWeight
	DealSpace          uint64
}

// WindowedPoStSubmission is the snapshot of one optimistically-accepted
// Window PoSt kept around long enough to adjudicate a dispute: the
// partitions/sectors it covered, the proof bytes themselves, the challenge
// they were checked against, and the epoch after which they're no longer
// disputable.
type WindowedPoStSubmission struct {
	Partitions      []PoStPartition
	Proofs          []abi.PoStProof
	ChallengeEpoch  abi.ChainEpoch
	DisputableUntil abi.ChainEpoch
}

func (t *WindowedPoStSubmission) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *WindowedPoStSubmission) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }
