// Package verifreg defines the wire types of the Verified Registry actor's
// claim and allocation interface. The miner actor does not import this
// package or send to the Verified Registry; ExtendSectorExpiration2 checks
// claim drops against EndOfLifeClaimDropPeriod only.
package verifreg

import (
	addr "github.com/filecoin-project/go-address"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
)

type AllocationID uint64

// Claim records that a client's verified allocation has been bound to a
// specific miner's sector, for the given term.
type Claim struct {
	Provider            addr.Address
	Client               addr.Address
	Data                 interface{}
	Size                 abi.SectorSize
	TermMin              abi.ChainEpoch
	TermMax              abi.ChainEpoch
	TermStart            abi.ChainEpoch
	Sector               abi.SectorNumber
}

type SectorAllocationClaim struct {
	Client        addr.Address
	AllocationID  AllocationID
	Data          interface{}
	Size          abi.SectorSize
	SectorNumber  abi.SectorNumber
	SectorExpiry  abi.ChainEpoch
}

type ClaimAllocationsParams struct {
	Sectors        []SectorAllocationClaim
	AllOrNothing   bool
}

type ClaimAllocationsReturn struct {
	BatchInfo        interface{}
	ClaimedSpace     big.Int
	AllocatedSpace   big.Int
}

type GetClaimsParams struct {
	Provider addr.Address
	ClaimIds []AllocationID
}

type GetClaimsReturn struct {
	BatchInfo interface{}
	Claims    []Claim
}
