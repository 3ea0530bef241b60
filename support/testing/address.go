// Package testing provides small, dependency-free helpers for constructing
// addresses and CIDs in unit tests.
package testing

import (
	"testing"

	addr "github.com/filecoin-project/go-address"
	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/storageminer/specs-actors/actors/abi"
)

// NewIDAddr builds an ID-protocol address, failing the test on error.
func NewIDAddr(t testing.TB, id uint64) addr.Address {
	a, err := addr.NewIDAddress(id)
	require.NoError(t, err)
	return a
}

// NewBLSAddr builds a deterministic, distinguishable BLS-protocol address
// keyed off seed, for tests that need a resolvable-but-not-ID address.
func NewBLSAddr(t testing.TB, seed int64) addr.Address {
	buf := make([]byte, addr.BlsPublicKeyBytes)
	for i := range buf {
		buf[i] = byte(seed)
	}
	a, err := addr.NewBLSAddress(buf)
	require.NoError(t, err)
	return a
}

// NewActorAddr builds an actor-protocol address from an arbitrary seed
// string.
func NewActorAddr(t testing.TB, data string) addr.Address {
	a, err := addr.NewActorAddress([]byte(data))
	require.NoError(t, err)
	return a
}

// MakeCID derives a deterministic CID from data, optionally tagged with a
// prefix (to keep CIDs for different purposes, e.g. sealed vs. unsealed,
// visibly distinct in test failures).
func MakeCID(input string, prefix *cid.Prefix) cid.Cid {
	if prefix == nil {
		p := cid.NewPrefixV1(cid.Raw, mh.SHA2_256)
		prefix = &p
	}
	c, err := prefix.Sum([]byte(input))
	if err != nil {
		panic(err)
	}
	return c
}

// MakePID derives a deterministic PeerID-shaped byte string from s.
func MakePID(s string) abi.PeerID {
	return abi.PeerID(s)
}
