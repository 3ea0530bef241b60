package adt

import (
	"context"
	"fmt"

	cid "github.com/ipfs/go-cid"

	vmr "github.com/storageminer/specs-actors/actors/runtime"
)

// Store is the minimal content-addressed get/put surface the actor needs
// from the host runtime's block store; it matches go-ipld-cbor's
// cbor.IpldStore shape so that adt.Map/adt.Array can be backed directly by
// go-hamt-ipld/go-amt-ipld without any adapter layer.
type Store interface {
	Context() context.Context
	Get(ctx context.Context, c cid.Cid, out interface{}) error
	Put(ctx context.Context, v interface{}) (cid.Cid, error)
}

// hostStore aliases runtime.Store, the narrower, panic-on-fatal-error
// surface the host Runtime exposes to actor code directly.
type hostStore = vmr.Store

// Runtime is the narrow slice of vmr.Runtime that AsStore needs.
type Runtime interface {
	Store() hostStore
}

type rtStore struct {
	hs hostStore
}

// AsStore adapts a Runtime's block store to the ctx/error-returning Store
// interface used to build Map/Array instances.
func AsStore(rt Runtime) Store {
	return rtStore{hs: rt.Store()}
}

func (s rtStore) Context() context.Context { return s.hs.Context() }

func (s rtStore) Get(_ context.Context, c cid.Cid, out interface{}) error {
	if s.hs.Get(c, out) {
		return nil
	}
	return fmt.Errorf("adt: not found: %s", c)
}

func (s rtStore) Put(_ context.Context, v interface{}) (cid.Cid, error) {
	return s.hs.Put(v), nil
}

// EmptyValue is the canonical "no parameters" / "no return value" CBOR
// unit type, encoded as the empty array.
type EmptyValue struct{}
