package miner

import (
	"fmt"
	"io"

	cid "github.com/ipfs/go-cid"

	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
	"github.com/storageminer/specs-actors/actors/util/adt"
)

// Deadlines holds, for each of WPoStPeriodDeadlines deadlines, the CID of
// its Deadline object. Deadline objects are stored out-of-line (rather than
// inline in this array) because they're large enough that loading the one a
// message actually touches shouldn't force loading the other 47.
type Deadlines struct {
	Due [WPoStPeriodDeadlines]cid.Cid
}

func ConstructDeadlines(emptyDeadlineCid cid.Cid) *Deadlines {
	d := new(Deadlines)
	for i := range d.Due {
		d.Due[i] = emptyDeadlineCid
	}
	return d
}

func (t *Deadlines) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *Deadlines) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

func (d *Deadlines) LoadDeadline(store adt.Store, dlIdx uint64) (*Deadline, error) {
	if dlIdx >= WPoStPeriodDeadlines {
		return nil, fmt.Errorf("invalid deadline index %d", dlIdx)
	}
	var dl Deadline
	if err := store.Get(store.Context(), d.Due[dlIdx], &dl); err != nil {
		return nil, fmt.Errorf("failed to load deadline %d: %w", dlIdx, err)
	}
	return &dl, nil
}

func (d *Deadlines) UpdateDeadline(store adt.Store, dlIdx uint64, dl *Deadline) error {
	if dlIdx >= WPoStPeriodDeadlines {
		return fmt.Errorf("invalid deadline index %d", dlIdx)
	}
	dlCid, err := store.Put(store.Context(), dl)
	if err != nil {
		return fmt.Errorf("failed to store deadline %d: %w", dlIdx, err)
	}
	d.Due[dlIdx] = dlCid
	return nil
}
