package miner

import (
	"fmt"
	"sort"

	"github.com/filecoin-project/go-bitfield"
)

// PartitionSectorMap accumulates sector numbers addressed within a single
// deadline, grouped by partition index. Used to batch up a message's
// sectors (terminations, fault/recovery declarations, replacements) before
// walking the deadline/partition tree once per partition.
type PartitionSectorMap map[uint64]bitfield.BitField

// Add merges sectorNos into whatever's already recorded for partIdx.
func (pm PartitionSectorMap) Add(partIdx uint64, sectorNos bitfield.BitField) error {
	if existing, ok := pm[partIdx]; ok {
		pm[partIdx] = bitfield.MergeBitFields(existing, sectorNos)
	} else {
		pm[partIdx] = sectorNos
	}
	return nil
}

// AddValues is a convenience wrapper around Add for literal sector numbers.
func (pm PartitionSectorMap) AddValues(partIdx uint64, sectorNos ...uint64) error {
	return pm.Add(partIdx, bitfield.NewFromSet(sectorNos))
}

// Count returns the number of partitions addressed and the total number of
// sectors addressed across all of them.
func (pm PartitionSectorMap) Count() (partitions, sectors uint64, err error) {
	partitions = uint64(len(pm))
	for _, bf := range pm {
		n, err := bf.Count()
		if err != nil {
			return 0, 0, err
		}
		sectors += n
	}
	return partitions, sectors, nil
}

// sortedKeys returns the partition indices in ascending order, for
// deterministic iteration.
func (pm PartitionSectorMap) sortedKeys() []uint64 {
	keys := make([]uint64, 0, len(pm))
	for k := range pm {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// DeadlineSectorMap accumulates sector numbers addressed across multiple
// deadlines, each grouped further by partition (§4.3: every message that
// names sectors by deadline+partition - terminations, fault/recovery
// declarations, replacements - funnels through one of these before the
// actor walks the deadline tree).
type DeadlineSectorMap map[uint64]PartitionSectorMap

// Add records sectorNos as addressed within deadline dlIdx, partition
// partIdx.
func (dm DeadlineSectorMap) Add(dlIdx, partIdx uint64, sectorNos bitfield.BitField) error {
	pm, ok := dm[dlIdx]
	if !ok {
		pm = make(PartitionSectorMap)
		dm[dlIdx] = pm
	}
	return pm.Add(partIdx, sectorNos)
}

// AddValues is a convenience wrapper around Add for literal sector numbers.
func (dm DeadlineSectorMap) AddValues(dlIdx, partIdx uint64, sectorNos ...uint64) error {
	return dm.Add(dlIdx, partIdx, bitfield.NewFromSet(sectorNos))
}

// Count sums partition and sector counts across every deadline.
func (dm DeadlineSectorMap) Count() (partitions, sectors uint64, err error) {
	for _, pm := range dm {
		p, s, err := pm.Count()
		if err != nil {
			return 0, 0, err
		}
		partitions += p
		sectors += s
	}
	return partitions, sectors, nil
}

// Check rejects a map addressing more than maxPartitions partitions or
// maxSectors sectors in total, the per-message batch limits that keep a
// single message's gas cost bounded (§4.3 AddressedPartitionsMax /
// AddressedSectorsMax).
func (dm DeadlineSectorMap) Check(maxPartitions, maxSectors uint64) error {
	partitions, sectors, err := dm.Count()
	if err != nil {
		return err
	}
	if partitions > maxPartitions {
		return fmt.Errorf("too many partitions %d, max %d", partitions, maxPartitions)
	}
	if sectors > maxSectors {
		return fmt.Errorf("too many sectors %d, max %d", sectors, maxSectors)
	}
	return nil
}

// ForEach visits each deadline's PartitionSectorMap in ascending deadline
// index order.
func (dm DeadlineSectorMap) ForEach(f func(dlIdx uint64, pm PartitionSectorMap) error) error {
	keys := make([]uint64, 0, len(dm))
	for k := range dm {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if err := f(k, dm[k]); err != nil {
			return err
		}
	}
	return nil
}
