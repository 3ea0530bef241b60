package miner

import (
	"fmt"

	"github.com/filecoin-project/go-bitfield"
	cid "github.com/ipfs/go-cid"

	abi "github.com/storageminer/specs-actors/actors/abi"
	"github.com/storageminer/specs-actors/actors/util/adt"
)

// Sectors wraps the miner's HAMT of SectorNumber -> SectorOnChainInfo,
// giving every proven, not-yet-terminated sector a stable home independent
// of which deadline/partition it's currently assigned to.
type Sectors struct {
	*adt.Map
}

func LoadSectors(store adt.Store, root cid.Cid) (Sectors, error) {
	m, err := adt.AsMap(store, root)
	if err != nil {
		return Sectors{}, err
	}
	return Sectors{m}, nil
}

func (sa Sectors) Load(sectorNos bitfield.BitField) ([]*SectorOnChainInfo, error) {
	var sectorInfos []*SectorOnChainInfo
	if err := sectorNos.ForEach(func(i uint64) error {
		var sectorInfo SectorOnChainInfo
		found, err := sa.Map.Get(adt.UIntKey(i), &sectorInfo)
		if err != nil {
			return fmt.Errorf("failed to load sector %d: %w", i, err)
		}
		if !found {
			return fmt.Errorf("sector not found: %d", i)
		}
		sectorInfos = append(sectorInfos, &sectorInfo)
		return nil
	}); err != nil {
		return nil, err
	}
	return sectorInfos, nil
}

// LoadForProof loads the infos of the sectors in provenSectors that are not
// in expectedFaults. Faulty sectors are left out of the result; no other
// sector is put in their place.
func (sa Sectors) LoadForProof(provenSectors, expectedFaults bitfield.BitField) ([]*SectorOnChainInfo, error) {
	nonFaulty := bitfield.SubtractBitField(provenSectors, expectedFaults)
	sectorInfos, err := sa.Load(nonFaulty)
	if err != nil {
		return nil, err
	}
	return sectorInfos, nil
}

func (sa Sectors) Get(sectorNumber abi.SectorNumber) (*SectorOnChainInfo, bool, error) {
	var info SectorOnChainInfo
	found, err := sa.Map.Get(adt.UIntKey(uint64(sectorNumber)), &info)
	if err != nil || !found {
		return nil, found, err
	}
	return &info, true, nil
}

func (sa Sectors) MustGet(sectorNumber abi.SectorNumber) (*SectorOnChainInfo, error) {
	info, found, err := sa.Get(sectorNumber)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("sector not found: %d", sectorNumber)
	}
	return info, nil
}

func (sa Sectors) Store(infos ...*SectorOnChainInfo) error {
	for _, info := range infos {
		if info.SectorNumber > abi.MaxSectorNumber {
			return fmt.Errorf("sector number %d out of range", info.SectorNumber)
		}
		if err := sa.Map.Put(adt.UIntKey(uint64(info.SectorNumber)), info); err != nil {
			return fmt.Errorf("failed to store sector %d: %w", info.SectorNumber, err)
		}
	}
	return nil
}

func (sa Sectors) Delete(sectorNos bitfield.BitField) error {
	return sectorNos.ForEach(func(i uint64) error {
		if err := sa.Map.Delete(adt.UIntKey(i)); err != nil {
			return fmt.Errorf("failed to delete sector %d: %w", i, err)
		}
		return nil
	})
}

func (sa Sectors) Root() (cid.Cid, error) {
	return sa.Map.Root()
}
