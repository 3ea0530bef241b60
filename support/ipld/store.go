// Package ipld provides an in-memory content-addressed store for tests,
// satisfying adt.Store without needing a real blockstore/chain client.
package ipld

import (
	"fmt"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"

	"github.com/storageminer/specs-actors/actors/util/adt"
)

// memBlockstore is the minimal get/put surface cbor.NewCborStore needs
// (cbor.IpldBlockstore): enough to back an adt.Store without a real
// chain datastore.
type memBlockstore struct {
	mu   sync.Mutex
	data map[cid.Cid]blocks.Block
}

func newMemoryBlockstore() *memBlockstore {
	return &memBlockstore{data: make(map[cid.Cid]blocks.Block)}
}

func (m *memBlockstore) Get(c cid.Cid) (blocks.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[c]
	if !ok {
		return nil, fmt.Errorf("ipld: block not found: %s", c)
	}
	return b, nil
}

func (m *memBlockstore) Put(b blocks.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[b.Cid()] = b
	return nil
}

// NewADTStore returns a fresh, empty in-memory store suitable for driving
// adt.Map/adt.Array (and therefore full miner state trees) in unit tests.
func NewADTStore() adt.Store {
	return cbor.NewCborStore(newMemoryBlockstore())
}
