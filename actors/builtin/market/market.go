// Package market specifies only the slice of the Storage Market actor's
// interface the miner actor depends on: deal-weight verification at
// pre-commit/prove-commit time and deal-slashing at sector termination. The
// market actor's own deal-state machine is out of scope for this repository.
package market

import (
	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
)

// VerifyDealsForActivationParams asks the market actor to check that a
// sector's deal IDs are unexpired, unslashed, and not already attached to
// another sector, and to compute their combined (and, where applicable,
// verified) deal weight against the sector's proposed start/expiry.
type VerifyDealsForActivationParams struct {
	DealIDs      []abi.DealID
	SectorStart  abi.ChainEpoch
	SectorExpiry abi.ChainEpoch
}

type VerifyDealsForActivationReturn struct {
	DealWeight         big.Int
	VerifiedDealWeight big.Int
}

// ComputeDataCommitmentParams asks the market actor to recompute a
// sector's unsealed (CommD) CID from its deals, for comparison against the
// CommD implied by the seal proof being verified.
type ComputeDataCommitmentParams struct {
	SectorType abi.RegisteredSealProof
	DealIDs    []abi.DealID
}

// ActivateDealsParams is sent once a sector's proof has been confirmed
// valid, to bind its deals to the sector and start them accruing payment.
type ActivateDealsParams struct {
	DealIDs      []abi.DealID
	SectorExpiry abi.ChainEpoch
}

type ActivateDealsReturn struct {
	NonVerifiedDealSpace big.Int
	VerifiedDealSpace    big.Int
}

// OnMinerSectorsTerminateParams notifies the market actor that the given
// sectors (and the deals within them) have terminated, whether through
// voluntary termination, fault expiration, or cron-driven cleanup.
type OnMinerSectorsTerminateParams struct {
	Epoch   abi.ChainEpoch
	DealIDs []abi.DealID
}
