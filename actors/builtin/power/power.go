// Package power specifies only the slice of the Storage Power actor's
// interface the miner actor depends on (§1: peer actors are specified only
// at their interface). The power actor's own aggregate-accounting state
// machine is out of scope for this repository.
package power

import (
	addr "github.com/filecoin-project/go-address"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/util/smoothing"
)

// MinerConstructorParams are the parameters the power actor supplies when it
// creates a new miner actor; defined here (not in the miner package) to
// break the circular dependency between the two actors, matching upstream.
type MinerConstructorParams struct {
	OwnerAddr     addr.Address
	WorkerAddr    addr.Address
	ControlAddrs  []addr.Address
	SealProofType abi.RegisteredSealProof
	PeerId        abi.PeerID
	Multiaddrs    []abi.Multiaddrs
}

// MaxMinerProveCommitsPerEpoch bounds how many ConfirmSectorProofsValid
// batches the power actor is expected to confirm for a single miner in one
// epoch; the miner actor only logs (does not reject) if this is exceeded,
// since enforcement is the power actor's responsibility.
const MaxMinerProveCommitsPerEpoch = 200

// CurrentTotalPowerReturn is returned by the (unspecified) "current total
// power" query the miner actor issues to compute monies-curve inputs.
type CurrentTotalPowerReturn struct {
	RawBytePower            big.Int
	QualityAdjPower         big.Int
	PledgeCollateral        big.Int
	QualityAdjPowerSmoothed *smoothing.FilterEstimate
}

type EnrollCronEventParams struct {
	EventEpoch abi.ChainEpoch
	Payload    []byte
}

type UpdateClaimedPowerParams struct {
	RawByteDelta         big.Int
	QualityAdjustedDelta big.Int
}
