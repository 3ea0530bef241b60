package miner

import (
	"io"

	"github.com/filecoin-project/go-bitfield"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"

	abi "github.com/storageminer/specs-actors/actors/abi"
	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
	"github.com/storageminer/specs-actors/actors/util/adt"
)

// BitfieldQueue is an AMT of epoch -> bitfield-of-sector-numbers, keyed by
// quantized expiry epoch. It backs both the pre-commit expiry queue and
// (through ExpirationQueue) the early-termination queue: anything that
// needs "come back and do something to these sectors at this epoch".
type BitfieldQueue struct {
	Queue     *adt.Array
	QuantSpec QuantSpec
}

// bitfieldQueueValue is the CBOR-addressable AMT leaf value: a single
// bitfield of sector numbers due at one epoch.
type bitfieldQueueValue struct {
	Bits bitfield.BitField
}

func (t *bitfieldQueueValue) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *bitfieldQueueValue) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

var _ cbg.CBORMarshaler = (*bitfieldQueueValue)(nil)
var _ cbg.CBORUnmarshaler = (*bitfieldQueueValue)(nil)

func LoadBitfieldQueue(store adt.Store, root cid.Cid, quant QuantSpec) (*BitfieldQueue, error) {
	arr, err := adt.AsArray(store, root)
	if err != nil {
		return nil, err
	}
	return &BitfieldQueue{Queue: arr, QuantSpec: quant}, nil
}

func (q *BitfieldQueue) Root() (cid.Cid, error) {
	return q.Queue.Root()
}

// AddToQueue adds sectorNos, due at rawEpoch (quantized per q.QuantSpec), to
// the queue. No-op if sectorNos is empty.
func (q *BitfieldQueue) AddToQueue(rawEpoch abi.ChainEpoch, sectorNos bitfield.BitField) error {
	if empty, err := sectorNos.IsEmpty(); err != nil {
		return err
	} else if empty {
		return nil
	}
	epoch := q.QuantSpec.QuantizeUp(rawEpoch)
	var value bitfieldQueueValue
	found, err := q.Queue.Get(uint64(epoch), &value)
	if err != nil {
		return err
	}
	if found {
		value.Bits = bitfield.MergeBitFields(value.Bits, sectorNos)
	} else {
		value.Bits = sectorNos
	}
	return q.Queue.Set(uint64(epoch), &value)
}

// AddToQueueValues is a convenience wrapper taking raw sector numbers
// instead of an already-constructed bitfield.
func (q *BitfieldQueue) AddToQueueValues(rawEpoch abi.ChainEpoch, sectorNos ...uint64) error {
	return q.AddToQueue(rawEpoch, bitfield.NewFromSet(sectorNos))
}

// PopUntil removes and returns the union of all bitfields due at or before
// untilEpoch, along with whether any epoch was due.
func (q *BitfieldQueue) PopUntil(untilEpoch abi.ChainEpoch) (bitfield.BitField, bool, error) {
	var poppedValues []bitfield.BitField
	var poppedKeys []uint64

	var value bitfieldQueueValue
	if err := q.Queue.ForEach(&value, func(epoch int64) error {
		if abi.ChainEpoch(epoch) > untilEpoch {
			return errStopIteration
		}
		poppedKeys = append(poppedKeys, uint64(epoch))
		poppedValues = append(poppedValues, value.Bits)
		return nil
	}); err != nil && err != errStopIteration {
		return bitfield.BitField{}, false, err
	}

	if len(poppedKeys) == 0 {
		return bitfield.NewFromSet(nil), false, nil
	}

	for _, k := range poppedKeys {
		if err := q.Queue.Delete(k); err != nil {
			return bitfield.BitField{}, false, err
		}
	}

	merged := bitfield.MergeBitFields(poppedValues...)
	return merged, true, nil
}

// errStopIteration is a sentinel used only to break out of ForEach early;
// never returned to a caller of the exported methods.
var errStopIteration = stopIterationErr{}

type stopIterationErr struct{}

func (stopIterationErr) Error() string { return "stop iteration" }

// RemoveFromQueue removes sectorNos from whichever epochs they appear
// under, leaving other members of those epochs' bitfields intact, and
// removes now-empty epochs entirely.
func (q *BitfieldQueue) RemoveFromQueue(sectorNos bitfield.BitField) error {
	type update struct {
		epoch     uint64
		remaining bitfield.BitField
		empty     bool
	}
	var updates []update
	var value bitfieldQueueValue
	if err := q.Queue.ForEach(&value, func(epoch int64) error {
		remaining := bitfield.SubtractBitField(value.Bits, sectorNos)
		empty, err := remaining.IsEmpty()
		if err != nil {
			return err
		}
		updates = append(updates, update{epoch: uint64(epoch), remaining: remaining, empty: empty})
		return nil
	}); err != nil {
		return err
	}
	for _, u := range updates {
		if u.empty {
			if err := q.Queue.Delete(u.epoch); err != nil {
				return err
			}
			continue
		}
		if err := q.Queue.Set(u.epoch, &bitfieldQueueValue{Bits: u.remaining}); err != nil {
			return err
		}
	}
	return nil
}
