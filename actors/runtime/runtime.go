package runtime

import (
	"context"

	addr "github.com/filecoin-project/go-address"
	cid "github.com/ipfs/go-cid"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	crypto "github.com/storageminer/specs-actors/actors/crypto"
	exitcode "github.com/storageminer/specs-actors/actors/runtime/exitcode"
)

// Store is the content-addressed block store surface the host exposes
// directly to actor code. Unlike adt.Store (used internally by the
// HAMT/AMT-backed Map and Array), Put/Get here never surface a store-layer
// error: a corrupt or unreachable block store is a host bug, not a
// recoverable condition, so the host panics instead. adt.AsStore adapts
// this into the ctx/error-returning shape go-hamt-ipld and go-amt-ipld
// expect.
type Store interface {
	Context() context.Context
	Put(v interface{}) cid.Cid
	Get(c cid.Cid, out interface{}) bool
}

// LogLevel mirrors the handful of severities the actor ever logs at; all
// actor logging is host-side and carries no consensus weight.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ConsensusFault describes one verified instance of block-production
// equivocation, as returned by the runtime's VerifyConsensusFault syscall.
type ConsensusFault struct {
	Target addr.Address
	Epoch  abi.ChainEpoch
	Type   ConsensusFaultType
}

type ConsensusFaultType int64

const (
	ConsensusFaultDoubleForkMining ConsensusFaultType = 1
	ConsensusFaultParentGrinding   ConsensusFaultType = 2
	ConsensusFaultTimeOffsetMining ConsensusFaultType = 3
)

// Syscalls exposes the cryptographic primitives the actor orders but does
// not itself implement (§1 scope note): hashing for the proving-period
// offset, consensus-fault evidence verification, and seal/PoSt/
// replica-update proof verification.
type Syscalls interface {
	HashBlake2b(data []byte) [32]byte
	VerifyConsensusFault(h1, h2, extra []byte) (*ConsensusFault, error)
	VerifySeal(info abi.SealVerifyInfo) error
	VerifyAggregateSeals(aggregate abi.AggregateSealVerifyProofAndInfos) error
	VerifyReplicaUpdate(update abi.ReplicaUpdateInfo) error
	VerifyPoSt(info WindowPoStVerifyInfo) error
}

// WindowPoStVerifyInfo bundles a Window PoSt submission for verification:
// the challenged sectors, the randomness that derived the challenge, and
// the proof bytes themselves.
type WindowPoStVerifyInfo struct {
	Randomness        abi.PoStRandomness
	Proofs            []abi.PoStProof
	ChallengedSectors []SectorInfo
	Prover            uint64
}

// SectorInfo is the minimal per-sector data a PoSt verification call needs.
type SectorInfo struct {
	SealProof    abi.RegisteredSealProof
	SectorNumber abi.SectorNumber
	SealedCID    cid.Cid
}

// Message exposes the invocation envelope: who sent this message and to
// which actor it was addressed.
type Message interface {
	Caller() addr.Address
	Receiver() addr.Address
	ValueReceived() big.Int
}

// SendReturn wraps the serialized return value of a Send call; callers
// decode it into a concrete type lazily, only if they need the result.
type SendReturn interface {
	Into(interface{}) error
}

// StateManager is the transactional handle to this actor's own state root,
// per §5's "at most one transaction per method" model.
type StateManager interface {
	// Create persists the initial state object as this actor's root; valid
	// only from the Constructor.
	Create(stateObj interface{})
	// Readonly loads the current state into stateObj without starting a
	// transaction; mutations made to stateObj are never persisted.
	Readonly(stateObj interface{})
	// Transaction loads the current state into stateObj, runs f (which may
	// mutate stateObj), and atomically commits the result as the new state
	// root. A panic inside f (including one raised by Abortf) propagates
	// and discards the mutation entirely.
	Transaction(stateObj interface{}, f func())
}

// Runtime is the host VM surface the actor is invoked through: randomness,
// the current epoch and balance, content-addressed storage, inter-actor
// send, and the state-transaction guard. This is the sole external
// collaborator named in §1; every other component in this module is a pure
// function of (State, params, Runtime).
type Runtime interface {
	Context() context.Context

	CurrEpoch() abi.ChainEpoch
	CurrentBalance() big.Int
	TotalFilCircSupply() big.Int
	// BaseFee is the current network base fee, used to scale the
	// aggregation network fee charged by the batch/aggregate sector
	// methods (PreCommitSectorBatch(2), ProveCommitAggregate,
	// ProveReplicaUpdates(2)).
	BaseFee() big.Int

	Message() Message
	Store() Store

	Syscalls() Syscalls
	State() StateManager

	GetRandomnessFromTickets(tag crypto.DomainSeparationTag, epoch abi.ChainEpoch, entropy []byte) abi.Randomness
	GetRandomnessFromBeacon(tag crypto.DomainSeparationTag, epoch abi.ChainEpoch, entropy []byte) abi.Randomness

	ResolveAddress(a addr.Address) (addr.Address, bool)
	GetActorCodeCID(a addr.Address) (cid.Cid, bool)
	ValidateImmediateCallerIs(addrs ...addr.Address)
	ValidateImmediateCallerAcceptAny()
	ValidateImmediateCallerType(types ...interface{})

	Send(to addr.Address, method uint64, params interface{}, value big.Int) (SendReturn, exitcode.ExitCode)

	Abortf(code exitcode.ExitCode, msg string, args ...interface{})
	Log(level LogLevel, msg string, args ...interface{})
}
