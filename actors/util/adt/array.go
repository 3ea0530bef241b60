package adt

import (
	"bytes"

	amt "github.com/filecoin-project/go-amt-ipld/v3"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

// DefaultAmtBitwidth is the branching factor used for every AMT in this
// actor (a deadline's Partitions, ExpirationQueue and BitfieldQueue).
// A single constant keeps CID derivation
// consistent across the whole state tree, matching the teacher's practice
// of pinning one bitwidth per node kind.
const DefaultAmtBitwidth = 3

// Array is a sparse, integer-indexed, content-addressed array backed by a
// go-amt-ipld AMT. It is the on-disk representation for every ordered,
// index-addressed collection in the actor's state.
type Array struct {
	root  *amt.Root
	store Store
}

// MakeEmptyArray constructs a new, empty Array rooted in the given store.
func MakeEmptyArray(s Store) *Array {
	return &Array{root: amt.NewAMT(s, amt.UseTreeBitWidth(DefaultAmtBitwidth)), store: s}
}

// AsArray loads an existing Array from its root CID.
func AsArray(s Store, root cid.Cid) (*Array, error) {
	r, err := amt.LoadAMT(s.Context(), s, root, amt.UseTreeBitWidth(DefaultAmtBitwidth))
	if err != nil {
		return nil, xerrors.Errorf("failed to load amt: %w", err)
	}
	return &Array{root: r, store: s}, nil
}

// Root flushes pending writes and returns the array's current CID.
func (a *Array) Root() (cid.Cid, error) {
	return a.root.Flush(a.store.Context())
}

// Set writes (or overwrites) the value at index k.
func (a *Array) Set(k uint64, v cbg.CBORMarshaler) error {
	return a.root.Set(a.store.Context(), k, v)
}

// Get reads the value at index k into out, reporting whether it was present.
func (a *Array) Get(k uint64, out cbg.CBORUnmarshaler) (bool, error) {
	err := a.root.Get(a.store.Context(), k, out)
	if err == nil {
		return true, nil
	}
	if _, notFound := err.(*amt.ErrNotFound); notFound {
		return false, nil
	}
	return false, err
}

// Delete removes the value at index k, if present.
func (a *Array) Delete(k uint64) error {
	err := a.root.Delete(a.store.Context(), k)
	if err == nil {
		return nil
	}
	if _, notFound := err.(*amt.ErrNotFound); notFound {
		return nil
	}
	return err
}

// ForEach visits every present index in ascending order.
func (a *Array) ForEach(out cbg.CBORUnmarshaler, fn func(i int64) error) error {
	return a.root.ForEach(a.store.Context(), func(k uint64, deferred *cbg.Deferred) error {
		if err := out.UnmarshalCBOR(bytes.NewReader(deferred.Raw)); err != nil {
			return xerrors.Errorf("failed to unmarshal array value: %w", err)
		}
		return fn(int64(k))
	})
}

// Length returns the number of present entries (not the index range).
func (a *Array) Length() uint64 {
	return a.root.Len()
}
