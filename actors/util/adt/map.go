package adt

import (
	"bytes"
	"encoding/binary"

	hamt "github.com/filecoin-project/go-hamt-ipld/v3"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

// DefaultHamtBitwidth is the branching factor used for every HAMT in this
// actor (PreCommittedSectors keyed by sector number).
const DefaultHamtBitwidth = 5

// Keyer produces the raw HAMT key bytes for a value; sector numbers and
// other small integers use a big-endian encoding so that keys sort the same
// way numerically as they do lexicographically, which keeps iteration order
// (a consensus-visible property) independent of map implementation.
type Keyer interface {
	Key() string
}

// UIntKey is a Keyer for unsigned integer map keys (sector numbers, deadline
// indices used as HAMT keys where an AMT is not a better fit).
type UIntKey uint64

func (k UIntKey) Key() string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(k))
	return string(buf)
}

// StringKey is a Keyer for raw string map keys.
type StringKey string

func (k StringKey) Key() string { return string(k) }

// ParseUIntKey decodes a big-endian uint64 key back to its numeric value.
func ParseUIntKey(k string) (uint64, error) {
	if len(k) != 8 {
		return 0, xerrors.Errorf("invalid uint key length %d", len(k))
	}
	return binary.BigEndian.Uint64([]byte(k)), nil
}

// Map is a content-addressed, sparse string-keyed map backed by a
// go-hamt-ipld HAMT.
type Map struct {
	root  *hamt.Node
	store Store
}

// MakeEmptyMap constructs a new, empty Map rooted in the given store.
func MakeEmptyMap(s Store) *Map {
	nd, err := hamt.NewNode(s, hamt.UseTreeBitWidth(DefaultHamtBitwidth))
	if err != nil {
		// Construction of an empty, unflushed node cannot fail for a valid store.
		panic(xerrors.Errorf("failed to create empty hamt node: %w", err))
	}
	return &Map{root: nd, store: s}
}

// AsMap loads an existing Map from its root CID.
func AsMap(s Store, root cid.Cid) (*Map, error) {
	nd, err := hamt.LoadNode(s.Context(), s, root, hamt.UseTreeBitWidth(DefaultHamtBitwidth))
	if err != nil {
		return nil, xerrors.Errorf("failed to load hamt node: %w", err)
	}
	return &Map{root: nd, store: s}, nil
}

// Root flushes pending writes and returns the map's current CID.
func (m *Map) Root() (cid.Cid, error) {
	if err := m.root.Flush(m.store.Context()); err != nil {
		return cid.Undef, xerrors.Errorf("failed to flush hamt root: %w", err)
	}
	return m.store.Put(m.store.Context(), m.root)
}

// Put writes (or overwrites) the value under key k.
func (m *Map) Put(k Keyer, v cbg.CBORMarshaler) error {
	if err := m.root.Set(m.store.Context(), k.Key(), v); err != nil {
		return xerrors.Errorf("failed to set hamt key %v: %w", k, err)
	}
	return nil
}

// Get reads the value under key k into out, reporting whether it was present.
func (m *Map) Get(k Keyer, out cbg.CBORUnmarshaler) (bool, error) {
	err := m.root.Find(m.store.Context(), k.Key(), out)
	if err == nil {
		return true, nil
	}
	if err == hamt.ErrNotFound {
		return false, nil
	}
	return false, xerrors.Errorf("failed to get hamt key %v: %w", k, err)
}

// Delete removes the value under key k, if present.
func (m *Map) Delete(k Keyer) error {
	err := m.root.Delete(m.store.Context(), k.Key())
	if err == nil || err == hamt.ErrNotFound {
		return nil
	}
	return xerrors.Errorf("failed to delete hamt key %v: %w", k, err)
}

// ForEach visits every entry; iteration order is the HAMT's canonical
// (hash-bucket) order, which is deterministic across implementations for a
// fixed bitwidth and is therefore consensus-safe.
func (m *Map) ForEach(out cbg.CBORUnmarshaler, fn func(key string) error) error {
	return m.root.ForEach(m.store.Context(), func(k string, deferred *cbg.Deferred) error {
		if out != nil {
			if err := out.UnmarshalCBOR(bytes.NewReader(deferred.Raw)); err != nil {
				return xerrors.Errorf("failed to unmarshal map value for key %x: %w", k, err)
			}
		}
		return fn(k)
	})
}
