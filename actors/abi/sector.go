package abi

import (
	big "github.com/storageminer/specs-actors/actors/abi/big"
)

// ChainEpoch is a signed count of block intervals since genesis.
type ChainEpoch int64

// SectorNumber is a numeric identifier for a sector, unique across a miner's
// lifetime (never reused once allocated).
type SectorNumber uint64

// MaxSectorNumber is the maximum sector number representable, chosen to
// leave the top bit free for future use without overflowing int64 math.
const MaxSectorNumber = SectorNumber(1<<63 - 1)

// SectorSize indicates the amount of space in a sector, in bytes.
type SectorSize uint64

// StoragePower is a quantity of power, a function of sector size and quality.
type StoragePower = big.Int

// TokenAmount is an amount of native token: a non-negative count of attoFIL
// unless explicitly a delta between two states.
type TokenAmount = big.Int

// NewTokenAmount constructs a TokenAmount from a signed integer number of
// attoFIL.
func NewTokenAmount(t int64) TokenAmount {
	return big.NewInt(t)
}

func NewStoragePower(p int64) StoragePower {
	return big.NewInt(p)
}

// DealID is a unique identifier for a deal in the storage market actor.
type DealID uint64

// DealWeight is a deal's size integrated over its duration (byte-epochs).
type DealWeight = big.Int

// PeerID is a libp2p peer identifier, opaque to the actor.
type PeerID []byte

// Multiaddrs is a single libp2p multiaddr, opaque to the actor.
type Multiaddrs []byte

// Randomness is a slice of verifiable random bytes produced by the chain.
type Randomness []byte

// SealRandomness is randomness used to tie a seal proof to a chain epoch.
type SealRandomness = Randomness

// InteractiveSealRandomness is randomness used for the interactive step of
// PoRep, drawn after pre-commit has been observed on chain.
type InteractiveSealRandomness = Randomness

// PoStRandomness ties a Window PoSt proof to its challenge epoch.
type PoStRandomness = Randomness
