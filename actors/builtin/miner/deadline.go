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

// Deadline tracks every partition assigned to one of a miner's
// WPoStPeriodDeadlines deadlines (§4.3): an AMT of Partition, a bitfield of
// which partitions have already posted this proving period, a bitfield of
// partitions with an unresolved early termination, live and total sector
// counts, and the aggregate faulty power those partitions represent (kept
// denormalized here so cron and PoSt handling don't have to walk every
// partition to total it).
type Deadline struct {
	Partitions        cid.Cid // AMT of Partition, keyed by partition index
	ExpirationsEpochs cid.Cid // AMT of BitfieldQueue: partitions with sectors expiring at an epoch
	PartitionsPoSted  bitfield.BitField
	EarlyTerminations bitfield.BitField
	LiveSectors       uint64
	TotalSectors      uint64
	FaultyPower       PowerPair
}

func (t *Deadline) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *Deadline) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

var _ cbg.CBORMarshaler = (*Deadline)(nil)

func ConstructDeadline(emptyArrayCid cid.Cid) *Deadline {
	return &Deadline{
		Partitions:        emptyArrayCid,
		ExpirationsEpochs: emptyArrayCid,
		PartitionsPoSted:  bitfield.New(),
		EarlyTerminations: bitfield.New(),
		LiveSectors:       0,
		TotalSectors:      0,
		FaultyPower:       NewPowerPairZero(),
	}
}

func (d *Deadline) PartitionsArray(store adt.Store) (*adt.Array, error) {
	return adt.AsArray(store, d.Partitions)
}

func (d *Deadline) LoadPartition(store adt.Store, partIdx uint64) (*Partition, error) {
	arr, err := d.PartitionsArray(store)
	if err != nil {
		return nil, err
	}
	var part Partition
	found, err := arr.Get(partIdx, &part)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errPartitionNotFound(partIdx)
	}
	return &part, nil
}

type errPartitionNotFound uint64

func (e errPartitionNotFound) Error() string {
	return "no such partition"
}

func (d *Deadline) savePartitions(store adt.Store, arr *adt.Array) error {
	root, err := arr.Root()
	if err != nil {
		return err
	}
	d.Partitions = root
	return nil
}

// AddSectors assigns newly-proven sectors into this deadline's partitions,
// packing each partition up to partitionSize sectors before starting a new
// one, and returns the power added.
func (d *Deadline) AddSectors(store adt.Store, partitionSize uint64, proven bool, sectors []*SectorOnChainInfo, sectorSize abi.SectorSize, quant QuantSpec) (PowerPair, error) {
	totalPower := NewPowerPairZero()
	if len(sectors) == 0 {
		return totalPower, nil
	}

	partitions, err := d.PartitionsArray(store)
	if err != nil {
		return totalPower, err
	}

	partIdx := partitions.Length()
	if partIdx > 0 {
		partIdx--
	}

	for len(sectors) > 0 {
		var partition Partition
		found, err := partitions.Get(partIdx, &partition)
		if err != nil {
			return totalPower, err
		}
		if !found {
			emptyArr := adt.MakeEmptyArray(store)
			emptyRoot, err := emptyArr.Root()
			if err != nil {
				return totalPower, err
			}
			partition = *NewPartition(emptyRoot)
		}

		room := partitionSize
		if n, _ := partition.Sectors.Count(); n < partitionSize {
			room = partitionSize - n
		} else {
			room = 0
		}
		if room == 0 {
			partIdx++
			continue
		}
		take := room
		if uint64(len(sectors)) < take {
			take = uint64(len(sectors))
		}
		batch := sectors[:take]
		sectors = sectors[take:]

		power, err := partition.AddSectors(store, proven, batch, sectorSize, quant)
		if err != nil {
			return totalPower, err
		}
		totalPower = totalPower.Add(power)
		d.LiveSectors += uint64(len(batch))
		d.TotalSectors += uint64(len(batch))

		if err := partitions.Set(partIdx, &partition); err != nil {
			return totalPower, err
		}
		if len(sectors) > 0 {
			partIdx++
		}
	}

	return totalPower, d.savePartitions(store, partitions)
}

// PoStResult is the outcome of processing a Window PoSt submission: power
// gained from recoveries, power lost from new/retracted faults, and the
// final proven/ignored sector sets used for proof verification.
type PoStResult struct {
	PowerDelta      PowerPair
	NewFaultyPower  PowerPair
	RecoveredPower  PowerPair
	Sectors         bitfield.BitField
	IgnoredSectors  bitfield.BitField
}

func (r *PoStResult) PenaltyPower() PowerPair {
	return r.NewFaultyPower
}

// RecordProvenSectors applies a set of PoStPartition submissions to this
// deadline: in each submitted partition, sectors listed as skipped are
// recorded as new faults, recovering sectors are restored to health, and
// unproven sectors are activated. Partitions not listed in postPartitions
// are left unchanged.
func (d *Deadline) RecordProvenSectors(store adt.Store, sectors Sectors, sectorSize abi.SectorSize, quant QuantSpec, faultExpiration abi.ChainEpoch, postPartitions []PoStPartition) (*PoStResult, error) {
	partitions, err := d.PartitionsArray(store)
	if err != nil {
		return nil, err
	}

	powerDelta := NewPowerPairZero()
	newFaultyPower := NewPowerPairZero()
	recoveredPower := NewPowerPairZero()
	allProven := bitfield.New()
	allIgnored := bitfield.New()

	for _, post := range postPartitions {
		var partition Partition
		found, err := partitions.Get(post.Index, &partition)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		if empty, _ := post.Skipped.IsEmpty(); !empty {
			skippedFaultPower, err := partition.RecordFaults(store, sectors, post.Skipped, faultExpiration, sectorSize, quant)
			if err != nil {
				return nil, err
			}
			newFaultyPower = newFaultyPower.Add(skippedFaultPower)
		}

		recovered, err := partition.RecoverFaults(store, sectors, sectorSize, quant)
		if err != nil {
			return nil, err
		}
		recoveredPower = recoveredPower.Add(recovered)
		partition.ActivateUnproven()

		active, err := partition.ActiveSectors()
		if err != nil {
			return nil, err
		}
		allProven = bitfield.MergeBitFields(allProven, active)
		allIgnored = bitfield.MergeBitFields(allIgnored, partition.Faults)

		d.PartitionsPoSted = bitfield.MergeBitFields(d.PartitionsPoSted, bitfield.NewFromSet([]uint64{post.Index}))

		if err := partitions.Set(post.Index, &partition); err != nil {
			return nil, err
		}
	}

	powerDelta = powerDelta.Add(recoveredPower).Sub(newFaultyPower)
	d.FaultyPower = d.FaultyPower.Add(newFaultyPower).Sub(recoveredPower)

	if err := d.savePartitions(store, partitions); err != nil {
		return nil, err
	}

	return &PoStResult{
		PowerDelta:     powerDelta,
		NewFaultyPower: newFaultyPower,
		RecoveredPower: recoveredPower,
		Sectors:        allProven,
		IgnoredSectors: allIgnored,
	}, nil
}

// DeclareFaults declares sectorNos in the given partitions as faults,
// returning the total power lost.
func (d *Deadline) DeclareFaults(store adt.Store, sectors Sectors, sectorSize abi.SectorSize, quant QuantSpec, faultExpiration abi.ChainEpoch, partitionSectors PartitionSectorMap) (PowerPair, error) {
	partitions, err := d.PartitionsArray(store)
	if err != nil {
		return PowerPair{}, err
	}
	total := NewPowerPairZero()
	for partIdx, sectorNos := range partitionSectors {
		var partition Partition
		found, err := partitions.Get(partIdx, &partition)
		if err != nil {
			return PowerPair{}, err
		}
		if !found {
			continue
		}
		power, err := partition.RecordFaults(store, sectors, sectorNos, faultExpiration, sectorSize, quant)
		if err != nil {
			return PowerPair{}, err
		}
		total = total.Add(power)
		d.FaultyPower = d.FaultyPower.Add(power)
		if err := partitions.Set(partIdx, &partition); err != nil {
			return PowerPair{}, err
		}
	}
	return total, d.savePartitions(store, partitions)
}

// DeclareFaultsRecovered records sectorNos in the given partitions as
// recovering.
func (d *Deadline) DeclareFaultsRecovered(store adt.Store, sectors Sectors, sectorSize abi.SectorSize, partitionSectors PartitionSectorMap) error {
	partitions, err := d.PartitionsArray(store)
	if err != nil {
		return err
	}
	for partIdx, sectorNos := range partitionSectors {
		var partition Partition
		found, err := partitions.Get(partIdx, &partition)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := partition.DeclareFaultsRecovered(sectors, sectorSize, sectorNos); err != nil {
			return err
		}
		if err := partitions.Set(partIdx, &partition); err != nil {
			return err
		}
	}
	return d.savePartitions(store, partitions)
}

// TerminateSectors removes sectorNos (grouped by partition) from this
// deadline entirely, recording them as early-terminated.
func (d *Deadline) TerminateSectors(store adt.Store, sectors Sectors, epoch abi.ChainEpoch, partitionSectors PartitionSectorMap, sectorSize abi.SectorSize, quant QuantSpec) (PowerPair, error) {
	partitions, err := d.PartitionsArray(store)
	if err != nil {
		return PowerPair{}, err
	}
	removedPower := NewPowerPairZero()
	for partIdx, sectorNos := range partitionSectors {
		var partition Partition
		found, err := partitions.Get(partIdx, &partition)
		if err != nil {
			return PowerPair{}, err
		}
		if !found {
			continue
		}
		removed, err := partition.TerminateSectors(store, epoch, sectors, sectorNos, sectorSize, quant)
		if err != nil {
			return PowerPair{}, err
		}
		removedPower = removedPower.Add(removed.ActivePower).Add(removed.FaultyPower)
		d.FaultyPower = d.FaultyPower.Sub(removed.FaultyPower)
		n, _ := removed.Len()
		d.LiveSectors -= n
		d.EarlyTerminations = bitfield.MergeBitFields(d.EarlyTerminations, bitfield.NewFromSet([]uint64{partIdx}))
		if err := partitions.Set(partIdx, &partition); err != nil {
			return PowerPair{}, err
		}
	}
	return removedPower, d.savePartitions(store, partitions)
}

// RemovePartitions is used by CompactPartitions to drop partitions that are
// entirely terminated, returning the sector numbers they covered.
func (d *Deadline) RemovePartitions(store adt.Store, partIdxs bitfield.BitField, quant QuantSpec) (bitfield.BitField, error) {
	partitions, err := d.PartitionsArray(store)
	if err != nil {
		return bitfield.BitField{}, err
	}
	removedSectors := bitfield.New()
	if err := partIdxs.ForEach(func(idx uint64) error {
		var partition Partition
		found, err := partitions.Get(idx, &partition)
		if err != nil || !found {
			return err
		}
		removedSectors = bitfield.MergeBitFields(removedSectors, partition.Sectors)
		d.TotalSectors -= mustCount(partition.Sectors)
		return partitions.Delete(idx)
	}); err != nil {
		return bitfield.BitField{}, err
	}
	return removedSectors, d.savePartitions(store, partitions)
}

func mustCount(bf bitfield.BitField) uint64 {
	n, err := bf.Count()
	if err != nil {
		return 0
	}
	return n
}

// ProcessDeadlineEnd is invoked from cron once a deadline's challenge
// window has closed: every partition that was assigned to the deadline but
// didn't post (i.e. isn't in PartitionsPoSted) has its outstanding faults
// and failed recoveries charged, and PartitionsPoSted is reset for the next
// period.
func (d *Deadline) ProcessDeadlineEnd(store adt.Store, quant QuantSpec, faultExpirationEpoch abi.ChainEpoch) (newFaultyPower, failedRecoveryPower PowerPair, err error) {
	partitions, err := d.PartitionsArray(store)
	if err != nil {
		return PowerPair{}, PowerPair{}, err
	}
	newFaultyPower = NewPowerPairZero()
	failedRecoveryPower = NewPowerPairZero()

	var toUpdate []uint64
	var updated []Partition
	var part Partition
	if err := partitions.ForEach(&part, func(i int64) error {
		idx := uint64(i)
		posted, err := d.PartitionsPoSted.IsSet(idx)
		if err != nil {
			return err
		}
		if posted {
			return nil
		}
		pCopy := part
		nf, fr, err := pCopy.RecordMissedPost(store, faultExpirationEpoch, quant)
		if err != nil {
			return err
		}
		newFaultyPower = newFaultyPower.Add(nf)
		failedRecoveryPower = failedRecoveryPower.Add(fr)
		toUpdate = append(toUpdate, idx)
		updated = append(updated, pCopy)
		return nil
	}); err != nil {
		return PowerPair{}, PowerPair{}, err
	}

	for i, idx := range toUpdate {
		if err := partitions.Set(idx, &updated[i]); err != nil {
			return PowerPair{}, PowerPair{}, err
		}
	}

	d.FaultyPower = d.FaultyPower.Add(newFaultyPower)
	d.PartitionsPoSted = bitfield.New()

	return newFaultyPower, failedRecoveryPower, d.savePartitions(store, partitions)
}
