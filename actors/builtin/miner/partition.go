package miner

import (
	"io"

	"github.com/filecoin-project/go-bitfield"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
	"github.com/storageminer/specs-actors/actors/util/adt"
)

// Partition is the unit a miner proves in a single Window PoSt: a fixed-
// size group of sectors assigned to one deadline (§4.2). It tracks, as
// bitfields over its own sector numbers, which sectors are live, faulty,
// recovering, unproven, or terminated, plus the power each category
// represents and a per-epoch ExpirationQueue for on-time and early
// terminations.
type Partition struct {
	Sectors           bitfield.BitField
	Unproven          bitfield.BitField
	Faults            bitfield.BitField
	Recoveries        bitfield.BitField
	Terminated        bitfield.BitField
	ExpirationsEpochs cid.Cid // root of ExpirationQueue
	EarlyTerminated   cid.Cid // root of BitfieldQueue of early-terminated sectors by termination epoch
	LivePower         PowerPair
	UnprovenPower     PowerPair
	FaultyPower       PowerPair
	RecoveringPower   PowerPair
}

func (t *Partition) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *Partition) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

var _ cbg.CBORMarshaler = (*Partition)(nil)

func NewPartition(emptyArray cid.Cid) *Partition {
	return &Partition{
		Sectors:           bitfield.New(),
		Unproven:          bitfield.New(),
		Faults:            bitfield.New(),
		Recoveries:        bitfield.New(),
		Terminated:        bitfield.New(),
		ExpirationsEpochs: emptyArray,
		EarlyTerminated:   emptyArray,
		LivePower:         NewPowerPairZero(),
		UnprovenPower:     NewPowerPairZero(),
		FaultyPower:       NewPowerPairZero(),
		RecoveringPower:   NewPowerPairZero(),
	}
}

func (p *Partition) ActiveSectors() (bitfield.BitField, error) {
	nonActive := bitfield.MergeBitFields(p.Faults, p.Unproven)
	return bitfield.SubtractBitField(p.Sectors, nonActive), nil
}

func (p *Partition) ActivePower() PowerPair {
	return p.LivePower.Sub(p.FaultyPower).Sub(p.UnprovenPower)
}

// AddSectors adds newly pre-committed-then-proven sectors to the
// partition, as unproven (not yet demonstrated by a Window PoSt) unless
// proven is set, scheduling their on-time expiration in the partition's
// expiration queue.
func (p *Partition) AddSectors(store adt.Store, proven bool, sectors []*SectorOnChainInfo, sectorSize abi.SectorSize, quant QuantSpec) (PowerPair, error) {
	expirations, err := LoadExpirationQueue(store, p.ExpirationsEpochs, quant)
	if err != nil {
		return PowerPair{}, err
	}
	power, err := expirations.AddActiveSectors(sectors, sectorSize)
	if err != nil {
		return PowerPair{}, err
	}
	root, err := expirations.Root()
	if err != nil {
		return PowerPair{}, err
	}
	p.ExpirationsEpochs = root

	var nos []uint64
	for _, s := range sectors {
		nos = append(nos, uint64(s.SectorNumber))
	}
	newSectors := bitfield.NewFromSet(nos)
	p.Sectors = bitfield.MergeBitFields(p.Sectors, newSectors)
	p.LivePower = p.LivePower.Add(power)
	if !proven {
		p.Unproven = bitfield.MergeBitFields(p.Unproven, newSectors)
		p.UnprovenPower = p.UnprovenPower.Add(power)
	}
	return power, nil
}

// ActivateUnproven moves every sector still in Unproven into the proven
// set, e.g. at the deadline's first successful PoSt for them.
func (p *Partition) ActivateUnproven() {
	p.Unproven = bitfield.New()
	p.UnprovenPower = NewPowerPairZero()
}

func powerForSector(sectorSize abi.SectorSize, si *SectorOnChainInfo) PowerPair {
	return PowerPair{
		Raw: big.NewIntUnsigned(uint64(sectorSize)),
		QA:  QAPowerForWeight(sectorSize, si.Expiration-si.Activation, si.DealWeight, si.VerifiedDealWeight),
	}
}

// RecordFaults declares sectors faulty as of faultExpirationEpoch, removing
// their on-time expiration and re-filing it there, and returns the power
// newly lost to fault.
func (p *Partition) RecordFaults(store adt.Store, sectors Sectors, sectorNos bitfield.BitField, faultExpirationEpoch abi.ChainEpoch, sectorSize abi.SectorSize, quant QuantSpec) (PowerPair, error) {
	newFaults := bitfield.SubtractBitField(sectorNos, p.Faults)
	newFaults = bitfield.SubtractBitField(newFaults, p.Terminated)

	infos, err := sectors.Load(newFaults)
	if err != nil {
		return PowerPair{}, err
	}

	newFaultPower := NewPowerPairZero()
	for _, si := range infos {
		newFaultPower = newFaultPower.Add(powerForSector(sectorSize, si))
	}

	expirations, err := LoadExpirationQueue(store, p.ExpirationsEpochs, quant)
	if err != nil {
		return PowerPair{}, err
	}
	if err := expirations.RescheduleAsFaults(faultExpirationEpoch, infos, sectorSize); err != nil {
		return PowerPair{}, err
	}
	root, err := expirations.Root()
	if err != nil {
		return PowerPair{}, err
	}
	p.ExpirationsEpochs = root

	p.Faults = bitfield.MergeBitFields(p.Faults, newFaults)
	p.FaultyPower = p.FaultyPower.Add(newFaultPower)
	// A sector that was still unproven when it faults loses its unproven
	// status; its power is already counted in FaultyPower above and is
	// removed from UnprovenPower so it does not double count.
	for _, si := range infos {
		unproven, err := p.Unproven.IsSet(uint64(si.SectorNumber))
		if err != nil {
			return PowerPair{}, err
		}
		if unproven {
			p.UnprovenPower = p.UnprovenPower.Sub(powerForSector(sectorSize, si))
		}
	}
	p.Unproven = bitfield.SubtractBitField(p.Unproven, newFaults)
	return newFaultPower, nil
}

// DeclareFaultsRecovered marks sectorNos (a subset of current faults) as
// recovering, pending a successful PoSt to fully restore their power.
func (p *Partition) DeclareFaultsRecovered(sectors Sectors, sectorSize abi.SectorSize, sectorNos bitfield.BitField) error {
	recoveries := bitfield.SubtractBitField(sectorNos, p.Recoveries)
	infos, err := sectors.Load(recoveries)
	if err != nil {
		return err
	}
	power := NewPowerPairZero()
	for _, si := range infos {
		power = power.Add(powerForSector(sectorSize, si))
	}
	p.Recoveries = bitfield.MergeBitFields(p.Recoveries, recoveries)
	p.RecoveringPower = p.RecoveringPower.Add(power)
	return nil
}

// RecoverFaults restores every currently-recovering sector to healthy
// status, returning the power regained.
func (p *Partition) RecoverFaults(store adt.Store, sectors Sectors, sectorSize abi.SectorSize, quant QuantSpec) (PowerPair, error) {
	recovered := p.Recoveries
	infos, err := sectors.Load(recovered)
	if err != nil {
		return PowerPair{}, err
	}
	expirations, err := LoadExpirationQueue(store, p.ExpirationsEpochs, quant)
	if err != nil {
		return PowerPair{}, err
	}
	if err := expirations.RescheduleRecovered(infos, sectorSize); err != nil {
		return PowerPair{}, err
	}
	root, err := expirations.Root()
	if err != nil {
		return PowerPair{}, err
	}
	p.ExpirationsEpochs = root

	p.Faults = bitfield.SubtractBitField(p.Faults, recovered)
	p.FaultyPower = p.FaultyPower.Sub(p.RecoveringPower)
	power := p.RecoveringPower
	p.Recoveries = bitfield.New()
	p.RecoveringPower = NewPowerPairZero()
	return power, nil
}

// RecordMissedPost is called at the end of a deadline for every partition
// that had faults outstanding but didn't prove them recovered: the
// recovering set reverts to plain faulty, and any previously-unproven
// sectors (which never got a chance to be proven) become faulty too.
func (p *Partition) RecordMissedPost(store adt.Store, faultExpiration abi.ChainEpoch, quant QuantSpec) (newFaultyPower, failedRecoveryPower PowerPair, err error) {
	failedRecoveryPower = p.RecoveringPower
	p.Recoveries = bitfield.New()
	p.RecoveringPower = NewPowerPairZero()

	newFaultyPower = p.UnprovenPower
	newFaults := p.Unproven
	p.Faults = bitfield.MergeBitFields(p.Faults, newFaults)
	p.FaultyPower = p.FaultyPower.Add(newFaultyPower)
	p.Unproven = bitfield.New()
	p.UnprovenPower = NewPowerPairZero()
	return newFaultyPower, failedRecoveryPower, nil
}

// ReplaceSectors swaps oldSectors for newSectors (the same sector numbers,
// differing only in their on-chain fields — here, their expiration) in the
// partition's bookkeeping: it moves the pair's on-time expiration-queue
// entry from the old epoch to the new one and nets out any change to live
// power or pledge the edit implies. Neither set may include a faulty,
// unproven, or terminated sector number: only active sectors are extended.
func (p *Partition) ReplaceSectors(store adt.Store, oldSectors, newSectors []*SectorOnChainInfo, sectorSize abi.SectorSize, quant QuantSpec) (powerDelta PowerPair, pledgeDelta abi.TokenAmount, err error) {
	if len(oldSectors) != len(newSectors) {
		return NewPowerPairZero(), big.Zero(), xerrors.Errorf("old and new sector counts must match: %d != %d", len(oldSectors), len(newSectors))
	}
	if len(oldSectors) == 0 {
		return NewPowerPairZero(), big.Zero(), nil
	}

	expirations, err := LoadExpirationQueue(store, p.ExpirationsEpochs, quant)
	if err != nil {
		return NewPowerPairZero(), big.Zero(), xerrors.Errorf("failed to load expiration queue: %w", err)
	}

	newExpiration := newSectors[0].Expiration
	if err := expirations.RescheduleExpirations(newExpiration, oldSectors, sectorSize); err != nil {
		return NewPowerPairZero(), big.Zero(), xerrors.Errorf("failed to reschedule expirations: %w", err)
	}
	p.ExpirationsEpochs, err = expirations.Root()
	if err != nil {
		return NewPowerPairZero(), big.Zero(), xerrors.Errorf("failed to save expiration queue: %w", err)
	}

	oldPower := PowerForSectors(sectorSize, oldSectors)
	newPower := PowerForSectors(sectorSize, newSectors)
	powerDelta = newPower.Sub(oldPower)
	p.LivePower = p.LivePower.Add(powerDelta)

	oldPledge := big.Zero()
	newPledge := big.Zero()
	for _, s := range oldSectors {
		oldPledge = big.Add(oldPledge, s.InitialPledge)
	}
	for _, s := range newSectors {
		newPledge = big.Add(newPledge, s.InitialPledge)
	}
	pledgeDelta = big.Sub(newPledge, oldPledge)

	return powerDelta, pledgeDelta, nil
}

// TerminateSectors removes sectorNos from every tracking bitfield and the
// expiration queue, recording them as early-terminated at epoch, and
// returns the expiration-queue entries removed (power and pledge).
func (p *Partition) TerminateSectors(store adt.Store, epoch abi.ChainEpoch, sectors Sectors, sectorNos bitfield.BitField, sectorSize abi.SectorSize, quant QuantSpec) (*ExpirationSet, error) {
	live := bitfield.SubtractBitField(sectorNos, p.Terminated)
	infos, err := sectors.Load(live)
	if err != nil {
		return nil, err
	}

	expirations, err := LoadExpirationQueue(store, p.ExpirationsEpochs, quant)
	if err != nil {
		return nil, err
	}
	removed, err := expirations.RemoveSectors(infos, p.Faults, sectorSize)
	if err != nil {
		return nil, err
	}
	root, err := expirations.Root()
	if err != nil {
		return nil, err
	}
	p.ExpirationsEpochs = root

	p.Faults = bitfield.SubtractBitField(p.Faults, live)
	p.Recoveries = bitfield.SubtractBitField(p.Recoveries, live)
	p.Unproven = bitfield.SubtractBitField(p.Unproven, live)
	p.Sectors = bitfield.SubtractBitField(p.Sectors, live)
	p.Terminated = bitfield.MergeBitFields(p.Terminated, live)

	p.LivePower = p.LivePower.Sub(removed.ActivePower).Sub(removed.FaultyPower)
	p.FaultyPower = p.FaultyPower.Sub(removed.FaultyPower)

	earlyTerminations, err := LoadBitfieldQueue(store, p.EarlyTerminated, NoQuantization)
	if err != nil {
		return nil, err
	}
	if err := earlyTerminations.AddToQueue(epoch, live); err != nil {
		return nil, err
	}
	etRoot, err := earlyTerminations.Root()
	if err != nil {
		return nil, err
	}
	p.EarlyTerminated = etRoot

	return removed, nil
}

// TerminationResult bundles the sector numbers returned by
// PopEarlyTerminations for the caller to notify the market actor about.
type TerminationResult struct {
	Sectors bitfield.BitField
}

// PopEarlyTerminations pops the early-terminated sector numbers recorded
// against this partition for deal-slashing notification. The real queue is
// indexed by termination epoch; this drains it in full since a partition's
// early-termination queue is always bounded by its own sector count.
func (p *Partition) PopEarlyTerminations(store adt.Store, maxSectors uint64) (result TerminationResult, hasMore bool, err error) {
	bq, err := LoadBitfieldQueue(store, p.EarlyTerminated, NoQuantization)
	if err != nil {
		return TerminationResult{}, false, err
	}
	merged, found, err := bq.PopUntil(abi.ChainEpoch(1 << 60))
	if err != nil {
		return TerminationResult{}, false, err
	}
	if !found {
		return TerminationResult{Sectors: bitfield.New()}, false, nil
	}
	root, err := bq.Root()
	if err != nil {
		return TerminationResult{}, false, err
	}
	p.EarlyTerminated = root
	return TerminationResult{Sectors: merged}, false, nil
}
