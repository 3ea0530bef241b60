package abi

import (
	"fmt"

	cid "github.com/ipfs/go-cid"
)

// RegisteredSealProof identifies a seal (PoRep) proof type, which pins a
// sector size and hashing scheme for the lifetime of the sector.
type RegisteredSealProof int64

const (
	RegisteredSealProof_StackedDrg2KiBV1  RegisteredSealProof = 0
	RegisteredSealProof_StackedDrg8MiBV1  RegisteredSealProof = 1
	RegisteredSealProof_StackedDrg512MiBV1 RegisteredSealProof = 2
	RegisteredSealProof_StackedDrg32GiBV1 RegisteredSealProof = 3
	RegisteredSealProof_StackedDrg64GiBV1 RegisteredSealProof = 4

	RegisteredSealProof_StackedDrg2KiBV1_1  RegisteredSealProof = 5
	RegisteredSealProof_StackedDrg8MiBV1_1  RegisteredSealProof = 6
	RegisteredSealProof_StackedDrg512MiBV1_1 RegisteredSealProof = 7
	RegisteredSealProof_StackedDrg32GiBV1_1 RegisteredSealProof = 8
	RegisteredSealProof_StackedDrg64GiBV1_1 RegisteredSealProof = 9
)

// RegisteredPoStProof identifies a Window or Winning PoSt proof family,
// which determines sector size and the maximum proof byte length.
type RegisteredPoStProof int64

const (
	RegisteredPoStProof_StackedDrgWindow2KiBV1   RegisteredPoStProof = 0
	RegisteredPoStProof_StackedDrgWindow8MiBV1   RegisteredPoStProof = 1
	RegisteredPoStProof_StackedDrgWindow512MiBV1 RegisteredPoStProof = 2
	RegisteredPoStProof_StackedDrgWindow32GiBV1  RegisteredPoStProof = 3
	RegisteredPoStProof_StackedDrgWindow64GiBV1  RegisteredPoStProof = 4

	RegisteredPoStProof_StackedDrgWinning2KiBV1   RegisteredPoStProof = 5
	RegisteredPoStProof_StackedDrgWinning8MiBV1   RegisteredPoStProof = 6
	RegisteredPoStProof_StackedDrgWinning512MiBV1 RegisteredPoStProof = 7
	RegisteredPoStProof_StackedDrgWinning32GiBV1  RegisteredPoStProof = 8
	RegisteredPoStProof_StackedDrgWinning64GiBV1  RegisteredPoStProof = 9
)

// RegisteredUpdateProof identifies a replica-update (CC sector upgrade)
// proof family, paired 1:1 with a seal proof type.
type RegisteredUpdateProof int64

const (
	RegisteredUpdateProof_StackedDrg2KiBV1   RegisteredUpdateProof = 0
	RegisteredUpdateProof_StackedDrg8MiBV1   RegisteredUpdateProof = 1
	RegisteredUpdateProof_StackedDrg512MiBV1 RegisteredUpdateProof = 2
	RegisteredUpdateProof_StackedDrg32GiBV1  RegisteredUpdateProof = 3
	RegisteredUpdateProof_StackedDrg64GiBV1  RegisteredUpdateProof = 4
)

// RegisteredWindowPoStProof maps a seal proof type to its corresponding
// Window PoSt proof type; the two are fixed for the life of a sector.
func (p RegisteredSealProof) RegisteredWindowPoStProof() (RegisteredPoStProof, error) {
	switch p {
	case RegisteredSealProof_StackedDrg2KiBV1, RegisteredSealProof_StackedDrg2KiBV1_1:
		return RegisteredPoStProof_StackedDrgWindow2KiBV1, nil
	case RegisteredSealProof_StackedDrg8MiBV1, RegisteredSealProof_StackedDrg8MiBV1_1:
		return RegisteredPoStProof_StackedDrgWindow8MiBV1, nil
	case RegisteredSealProof_StackedDrg512MiBV1, RegisteredSealProof_StackedDrg512MiBV1_1:
		return RegisteredPoStProof_StackedDrgWindow512MiBV1, nil
	case RegisteredSealProof_StackedDrg32GiBV1, RegisteredSealProof_StackedDrg32GiBV1_1:
		return RegisteredPoStProof_StackedDrgWindow32GiBV1, nil
	case RegisteredSealProof_StackedDrg64GiBV1, RegisteredSealProof_StackedDrg64GiBV1_1:
		return RegisteredPoStProof_StackedDrgWindow64GiBV1, nil
	default:
		return 0, fmt.Errorf("unsupported mapping from %v to PoSt-window RegisteredProof", p)
	}
}

// RegisteredUpdateProof maps a seal proof type to its replica-update proof
// type, used when proving a CC sector upgrade in place.
func (p RegisteredSealProof) RegisteredUpdateProof() (RegisteredUpdateProof, error) {
	switch p {
	case RegisteredSealProof_StackedDrg2KiBV1, RegisteredSealProof_StackedDrg2KiBV1_1:
		return RegisteredUpdateProof_StackedDrg2KiBV1, nil
	case RegisteredSealProof_StackedDrg8MiBV1, RegisteredSealProof_StackedDrg8MiBV1_1:
		return RegisteredUpdateProof_StackedDrg8MiBV1, nil
	case RegisteredSealProof_StackedDrg512MiBV1, RegisteredSealProof_StackedDrg512MiBV1_1:
		return RegisteredUpdateProof_StackedDrg512MiBV1, nil
	case RegisteredSealProof_StackedDrg32GiBV1, RegisteredSealProof_StackedDrg32GiBV1_1:
		return RegisteredUpdateProof_StackedDrg32GiBV1, nil
	case RegisteredSealProof_StackedDrg64GiBV1, RegisteredSealProof_StackedDrg64GiBV1_1:
		return RegisteredUpdateProof_StackedDrg64GiBV1, nil
	default:
		return 0, fmt.Errorf("unsupported mapping from %v to replica-update RegisteredProof", p)
	}
}

// SectorSize returns the amount of space in a sector committed with this
// seal proof type.
func (p RegisteredSealProof) SectorSize() (SectorSize, error) {
	switch p {
	case RegisteredSealProof_StackedDrg2KiBV1, RegisteredSealProof_StackedDrg2KiBV1_1:
		return 2 << 10, nil
	case RegisteredSealProof_StackedDrg8MiBV1, RegisteredSealProof_StackedDrg8MiBV1_1:
		return 8 << 20, nil
	case RegisteredSealProof_StackedDrg512MiBV1, RegisteredSealProof_StackedDrg512MiBV1_1:
		return 512 << 20, nil
	case RegisteredSealProof_StackedDrg32GiBV1, RegisteredSealProof_StackedDrg32GiBV1_1:
		return 32 << 30, nil
	case RegisteredSealProof_StackedDrg64GiBV1, RegisteredSealProof_StackedDrg64GiBV1_1:
		return 64 << 30, nil
	default:
		return 0, fmt.Errorf("unsupported proof type: %v", p)
	}
}

// SealVerifyInfo bundles the caller-supplied proof bytes with the
// challenge-derived randomness the actor computed, ready to be validated
// (directly, for single sectors) or forwarded to the power actor for batch
// PoRep verification.
type SealVerifyInfo struct {
	SealProof             RegisteredSealProof
	SectorID              SectorID
	DealIDs               []DealID
	Randomness            SealRandomness
	InteractiveRandomness InteractiveSealRandomness
	Proof                 []byte
	SealedCID             cid.Cid
	UnsealedCID           cid.Cid
}

// SectorID globally identifies a sector by miner and sector number.
type SectorID struct {
	Miner  uint64
	Number SectorNumber
}

// PoStProof pairs a proof-type tag with the raw bytes for one Window PoSt
// submission (one entry per distinct proof type among the sectors proven).
type PoStProof struct {
	PoStProof  RegisteredPoStProof
	ProofBytes []byte
}

// AggregateSealVerifyProofAndInfos bundles the inputs ProveCommitAggregate
// forwards to the runtime's aggregate-SNARK verifier.
type AggregateSealVerifyProofAndInfos struct {
	Miner          uint64
	SealProof      RegisteredSealProof
	AggregateProof int64
	Proof          []byte
	Infos          []AggregateSealVerifyInfo
}

type AggregateSealVerifyInfo struct {
	Number                SectorNumber
	Randomness            SealRandomness
	InteractiveRandomness InteractiveSealRandomness
	SealedCID             cid.Cid
	UnsealedCID           cid.Cid
}

// ReplicaUpdateInfo bundles the inputs needed to verify one CC-sector
// upgrade (replica-update) proof.
type ReplicaUpdateInfo struct {
	UpdateProofType      RegisteredUpdateProof
	NewSealedSectorCID   cid.Cid
	OldSealedSectorCID   cid.Cid
	NewUnsealedSectorCID cid.Cid
	Proof                []byte
}

// Invokee is implemented by actor types exposing a method-dispatch table;
// the VM trampoline reflects over Exports() to find the handler for a given
// method number.
type Invokee interface {
	Exports() []interface{}
}
