package miner

import (
	"io"

	"github.com/filecoin-project/go-bitfield"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
	. "github.com/storageminer/specs-actors/actors/util"
	"github.com/storageminer/specs-actors/actors/util/adt"
)

// ExpirationSet is the per-quantized-epoch bucket of sector numbers that
// are scheduled to stop being proven at that epoch, split by why: their
// committed lifetime simply ran out (OnTimeSectors) or they were declared
// or swept up as an early termination (EarlySectors). ActivePower/
// FaultyPower track the power each group represents so the deadline/
// partition above never has to re-derive it from SectorOnChainInfo.
type ExpirationSet struct {
	OnTimeSectors bitfield.BitField
	EarlySectors  bitfield.BitField
	OnTimePledge  abi.TokenAmount
	ActivePower   PowerPair
	FaultyPower   PowerPair
}

func NewExpirationSetEmpty() *ExpirationSet {
	return &ExpirationSet{
		OnTimeSectors: bitfield.New(),
		EarlySectors:  bitfield.New(),
		OnTimePledge:  big.Zero(),
		ActivePower:   NewPowerPairZero(),
		FaultyPower:   NewPowerPairZero(),
	}
}

func (t *ExpirationSet) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *ExpirationSet) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

var _ cbg.CBORMarshaler = (*ExpirationSet)(nil)

// Add merges sectors and power into the set.
func (es *ExpirationSet) Add(onTimeSectors, earlySectors bitfield.BitField, onTimePledge abi.TokenAmount, activePower, faultyPower PowerPair) error {
	es.OnTimeSectors = bitfield.MergeBitFields(es.OnTimeSectors, onTimeSectors)
	es.EarlySectors = bitfield.MergeBitFields(es.EarlySectors, earlySectors)
	es.OnTimePledge = big.Add(es.OnTimePledge, onTimePledge)
	es.ActivePower = es.ActivePower.Add(activePower)
	es.FaultyPower = es.FaultyPower.Add(faultyPower)
	return nil
}

// Remove removes sectors and power from the set, leaving it empty-checked
// by the caller.
func (es *ExpirationSet) Remove(onTimeSectors, earlySectors bitfield.BitField, onTimePledge abi.TokenAmount, activePower, faultyPower PowerPair) error {
	es.OnTimeSectors = bitfield.SubtractBitField(es.OnTimeSectors, onTimeSectors)
	es.EarlySectors = bitfield.SubtractBitField(es.EarlySectors, earlySectors)
	es.OnTimePledge = big.Sub(es.OnTimePledge, onTimePledge)
	es.ActivePower = es.ActivePower.Sub(activePower)
	es.FaultyPower = es.FaultyPower.Sub(faultyPower)
	return nil
}

func (es *ExpirationSet) IsEmpty() (bool, error) {
	onTimeEmpty, err := es.OnTimeSectors.IsEmpty()
	if err != nil {
		return false, err
	}
	earlyEmpty, err := es.EarlySectors.IsEmpty()
	if err != nil {
		return false, err
	}
	return onTimeEmpty && earlyEmpty, nil
}

func (es *ExpirationSet) Len() (uint64, error) {
	n1, err := es.OnTimeSectors.Count()
	if err != nil {
		return 0, err
	}
	n2, err := es.EarlySectors.Count()
	if err != nil {
		return 0, err
	}
	return n1 + n2, nil
}

// ExpirationQueue is an AMT of quantized epoch -> ExpirationSet, tracking
// when sectors are due to stop being proven (on time or early). It is
// shared (parameterized by QuantSpec) between a Partition's expirations and
// its early-termination bookkeeping.
type ExpirationQueue struct {
	Queue     *adt.Array
	QuantSpec QuantSpec
}

func LoadExpirationQueue(store adt.Store, root cid.Cid, quant QuantSpec) (*ExpirationQueue, error) {
	arr, err := adt.AsArray(store, root)
	if err != nil {
		return nil, err
	}
	return &ExpirationQueue{Queue: arr, QuantSpec: quant}, nil
}

func (q *ExpirationQueue) Root() (cid.Cid, error) {
	return q.Queue.Root()
}

func (q *ExpirationQueue) mustGetOrCreate(epoch abi.ChainEpoch) (*ExpirationSet, error) {
	var es ExpirationSet
	found, err := q.Queue.Get(uint64(epoch), &es)
	if err != nil {
		return nil, err
	}
	if !found {
		return NewExpirationSetEmpty(), nil
	}
	return &es, nil
}

// AddActiveSectors schedules a batch of newly-activated, non-faulty sectors
// to expire on time and returns the power they added.
func (q *ExpirationQueue) AddActiveSectors(sectors []*SectorOnChainInfo, sectorSize abi.SectorSize) (PowerPair, error) {
	totalPower := NewPowerPairZero()
	byEpoch := groupSectorsByExpiration(sectorSize, sectors, q.QuantSpec)
	for epoch, group := range byEpoch {
		es, err := q.mustGetOrCreate(epoch)
		if err != nil {
			return totalPower, err
		}
		if err := es.Add(group.sectorNos, bitfield.New(), group.pledge, group.power, NewPowerPairZero()); err != nil {
			return totalPower, err
		}
		if err := q.mustUpdateOrDelete(epoch, es); err != nil {
			return totalPower, err
		}
		totalPower = totalPower.Add(group.power)
	}
	return totalPower, nil
}

func (q *ExpirationQueue) mustUpdateOrDelete(epoch abi.ChainEpoch, es *ExpirationSet) error {
	empty, err := es.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		return q.Queue.Delete(uint64(epoch))
	}
	return q.Queue.Set(uint64(epoch), es)
}

// RescheduleExpirations moves a batch of sectors' on-time expiration to a
// new epoch, as used by ExtendSectorExpiration.
func (q *ExpirationQueue) RescheduleExpirations(newExpiration abi.ChainEpoch, sectors []*SectorOnChainInfo, sectorSize abi.SectorSize) error {
	if len(sectors) == 0 {
		return nil
	}
	if err := q.removeActiveSectors(sectors, sectorSize); err != nil {
		return err
	}
	rescheduled := make([]*SectorOnChainInfo, len(sectors))
	for i, s := range sectors {
		cp := *s
		cp.Expiration = newExpiration
		rescheduled[i] = &cp
	}
	_, err := q.AddActiveSectors(rescheduled, sectorSize)
	return err
}

func (q *ExpirationQueue) removeActiveSectors(sectors []*SectorOnChainInfo, sectorSize abi.SectorSize) error {
	byEpoch := groupSectorsByExpiration(sectorSize, sectors, q.QuantSpec)
	for epoch, group := range byEpoch {
		es, err := q.mustGetOrCreate(epoch)
		if err != nil {
			return err
		}
		if err := es.Remove(group.sectorNos, bitfield.New(), group.pledge, group.power, NewPowerPairZero()); err != nil {
			return err
		}
		if err := q.mustUpdateOrDelete(epoch, es); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleExpiration is an alias over AddActiveSectors retained for call
// sites that schedule a single sector.
func (q *ExpirationQueue) ScheduleExpiration(sector *SectorOnChainInfo, sectorSize abi.SectorSize) error {
	_, err := q.AddActiveSectors([]*SectorOnChainInfo{sector}, sectorSize)
	return err
}

// RemoveSectors removes both active and faulty sectors (identified by
// faultSet) from the queue entirely, e.g. prior to voluntary termination.
func (q *ExpirationQueue) RemoveSectors(sectors []*SectorOnChainInfo, faults bitfield.BitField, sectorSize abi.SectorSize) (removed *ExpirationSet, err error) {
	removed = NewExpirationSetEmpty()
	faultSet, err := faults.AllMap(1 << 30)
	if err != nil {
		return nil, err
	}
	byEpoch := groupSectorsByExpiration(sectorSize, sectors, q.QuantSpec)
	for epoch, group := range byEpoch {
		es, err := q.mustGetOrCreate(epoch)
		if err != nil {
			return nil, err
		}

		// Split the group's power by the caller's fault set: faulty sectors'
		// power sits in FaultyPower, the rest in ActivePower.
		groupFaultPower := NewPowerPairZero()
		for _, s := range sectors {
			if faultSet[uint64(s.SectorNumber)] && q.QuantSpec.QuantizeUp(s.Expiration) == epoch {
				groupFaultPower = groupFaultPower.Add(powerForSector(sectorSize, s))
			}
		}
		groupActivePower := group.power.Sub(groupFaultPower)
		if err := es.Remove(group.sectorNos, bitfield.New(), group.pledge, groupActivePower, groupFaultPower); err != nil {
			return nil, err
		}
		if err := q.mustUpdateOrDelete(epoch, es); err != nil {
			return nil, err
		}
		if err := removed.Add(group.sectorNos, bitfield.New(), group.pledge, groupActivePower, groupFaultPower); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// AddActiveSectorsAsEarly re-files already-scheduled sectors as early
// terminations effective at terminationEpoch: it removes them, with their
// pledge and active power, from their on-time epoch and adds them to the
// EarlySectors of the quantized termination epoch, recording their power
// there as faulty and their pledge as that epoch's OnTimePledge.
func (q *ExpirationQueue) AddActiveSectorsAsEarly(sectors []*SectorOnChainInfo, terminationEpoch abi.ChainEpoch, sectorSize abi.SectorSize) error {
	if len(sectors) == 0 {
		return nil
	}
	if err := q.removeActiveSectors(sectors, sectorSize); err != nil {
		return err
	}
	var nos []uint64
	totalPower := NewPowerPairZero()
	totalPledge := big.Zero()
	for _, s := range sectors {
		nos = append(nos, uint64(s.SectorNumber))
		totalPower = totalPower.Add(PowerPair{Raw: big.NewIntUnsigned(uint64(sectorSize)), QA: QAPowerForWeight(sectorSize, s.Expiration-s.Activation, s.DealWeight, s.VerifiedDealWeight)})
		totalPledge = big.Add(totalPledge, s.InitialPledge)
	}
	epoch := q.QuantSpec.QuantizeUp(terminationEpoch)
	es, err := q.mustGetOrCreate(epoch)
	if err != nil {
		return err
	}
	if err := es.Add(bitfield.New(), bitfield.NewFromSet(nos), totalPledge, NewPowerPairZero(), totalPower); err != nil {
		return err
	}
	return q.mustUpdateOrDelete(epoch, es)
}

// RescheduleAsFaults moves the given sectors' active power into faulty
// power for whichever epoch bucket they're already filed under, without
// changing their on-time expiration epoch or pledge.
func (q *ExpirationQueue) RescheduleAsFaults(faultExpiration abi.ChainEpoch, sectors []*SectorOnChainInfo, sectorSize abi.SectorSize) error {
	byEpoch := groupSectorsByExpiration(sectorSize, sectors, q.QuantSpec)
	for epoch, group := range byEpoch {
		es, err := q.mustGetOrCreate(epoch)
		if err != nil {
			return err
		}
		if err := es.Remove(bitfield.New(), bitfield.New(), big.Zero(), group.power, NewPowerPairZero()); err != nil {
			return err
		}
		if err := es.Add(bitfield.New(), bitfield.New(), big.Zero(), NewPowerPairZero(), group.power); err != nil {
			return err
		}
		if err := q.mustUpdateOrDelete(epoch, es); err != nil {
			return err
		}
	}
	return nil
}

// RescheduleRecovered moves the given sectors' faulty power back into
// active power for whichever epoch bucket they're already filed under.
func (q *ExpirationQueue) RescheduleRecovered(sectors []*SectorOnChainInfo, sectorSize abi.SectorSize) error {
	byEpoch := groupSectorsByExpiration(sectorSize, sectors, q.QuantSpec)
	for epoch, group := range byEpoch {
		es, err := q.mustGetOrCreate(epoch)
		if err != nil {
			return err
		}
		if err := es.Remove(bitfield.New(), bitfield.New(), big.Zero(), NewPowerPairZero(), group.power); err != nil {
			return err
		}
		if err := es.Add(bitfield.New(), bitfield.New(), big.Zero(), group.power, NewPowerPairZero()); err != nil {
			return err
		}
		if err := q.mustUpdateOrDelete(epoch, es); err != nil {
			return err
		}
	}
	return nil
}

// PopUntil removes and returns all expiration sets due at or before
// untilEpoch, merged into a single set.
func (q *ExpirationQueue) PopUntil(untilEpoch abi.ChainEpoch) (*ExpirationSet, error) {
	merged := NewExpirationSetEmpty()
	var toDelete []uint64
	var es ExpirationSet
	if err := q.Queue.ForEach(&es, func(epoch int64) error {
		if abi.ChainEpoch(epoch) > untilEpoch {
			return errStopIteration
		}
		toDelete = append(toDelete, uint64(epoch))
		return merged.Add(es.OnTimeSectors, es.EarlySectors, es.OnTimePledge, es.ActivePower, es.FaultyPower)
	}); err != nil && err != errStopIteration {
		return nil, err
	}
	for _, k := range toDelete {
		if err := q.Queue.Delete(k); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

type expirationGroup struct {
	sectorNos bitfield.BitField
	pledge    abi.TokenAmount
	power     PowerPair
}

// groupSectorsByExpiration buckets sectors by their quantized expiration
// epoch, accumulating the on-time pledge and power each bucket represents.
func groupSectorsByExpiration(sectorSize abi.SectorSize, sectors []*SectorOnChainInfo, quant QuantSpec) map[abi.ChainEpoch]*expirationGroup {
	out := map[abi.ChainEpoch]*expirationGroup{}
	for _, s := range sectors {
		epoch := quant.QuantizeUp(s.Expiration)
		g, ok := out[epoch]
		if !ok {
			g = &expirationGroup{sectorNos: bitfield.New(), pledge: big.Zero(), power: NewPowerPairZero()}
			out[epoch] = g
		}
		g.sectorNos = bitfield.MergeBitFields(g.sectorNos, bitfield.NewFromSet([]uint64{uint64(s.SectorNumber)}))
		g.pledge = big.Add(g.pledge, s.InitialPledge)
		power := PowerPair{
			Raw: big.NewIntUnsigned(uint64(sectorSize)),
			QA:  QAPowerForWeight(sectorSize, s.Expiration-s.Activation, s.DealWeight, s.VerifiedDealWeight),
		}
		g.power = g.power.Add(power)
	}
	return out
}

var _ = Assert
