package miner

import (
	"fmt"
	"io"

	"github.com/filecoin-project/go-bitfield"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin"
	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
	"github.com/storageminer/specs-actors/actors/util/adt"
)

// State is the miner actor's root object (§3). Everything else in this
// package exists to let this struct stay small and cheap to load/save on
// every message: the bulky sector/deadline/precommit data all lives behind
// CIDs here, loaded only by the operations that actually touch them.
type State struct {
	Info cid.Cid

	PreCommitDeposits abi.TokenAmount
	LockedFunds       abi.TokenAmount
	VestingFunds      cid.Cid

	FeeDebt abi.TokenAmount

	InitialPledge abi.TokenAmount

	PreCommittedSectors       cid.Cid
	PreCommittedSectorsExpiry cid.Cid

	AllocatedSectors cid.Cid // HAMT-free bitfield, stored as a single CBOR blob CID

	Sectors cid.Cid

	ProvingPeriodStart abi.ChainEpoch
	CurrentDeadline    uint64

	Deadlines cid.Cid

	EarlyTerminations bitfield.BitField

	// OptimisticPoStSubmissions is a HAMT of deadline index ->
	// WindowedPoStSubmission, holding the most recent Window PoSt accepted
	// for that deadline until its dispute window (WPoStDisputeWindow after
	// the deadline closes) elapses or DisputeWindowedPoSt consumes it.
	OptimisticPoStSubmissions cid.Cid
}

func (t *State) MarshalCBOR(w io.Writer) error  { return cborutil.Marshal(w, t) }
func (t *State) UnmarshalCBOR(r io.Reader) error { return cborutil.Unmarshal(r, t) }

var _ cbg.CBORMarshaler = (*State)(nil)

func ConstructState(infoCid cid.Cid, periodStart abi.ChainEpoch, emptyBitfieldCid cid.Cid, emptyArrayCid cid.Cid, emptyMapCid cid.Cid, emptyDeadlinesCid cid.Cid, emptyVestingFundsCid cid.Cid) (*State, error) {
	return &State{
		Info: infoCid,

		PreCommitDeposits: big.Zero(),
		LockedFunds:       big.Zero(),
		VestingFunds:      emptyVestingFundsCid,

		FeeDebt: big.Zero(),

		InitialPledge: big.Zero(),

		PreCommittedSectors:       emptyMapCid,
		PreCommittedSectorsExpiry: emptyArrayCid,
		AllocatedSectors:          emptyBitfieldCid,
		Sectors:                   emptyMapCid,

		ProvingPeriodStart: periodStart,
		CurrentDeadline:    0,
		Deadlines:          emptyDeadlinesCid,

		EarlyTerminations: bitfield.New(),

		OptimisticPoStSubmissions: emptyMapCid,
	}, nil
}

// PutOptimisticPoStSubmission records sub as the disputable Window PoSt for
// deadline dlIdx, overwriting whatever was recorded there by an earlier
// proving period (only one submission per deadline is ever live at once:
// by the time a deadline is proven again its prior dispute window has
// already closed).
func (st *State) PutOptimisticPoStSubmission(store adt.Store, dlIdx uint64, sub *WindowedPoStSubmission) error {
	submissions, err := adt.AsMap(store, st.OptimisticPoStSubmissions)
	if err != nil {
		return err
	}
	if err := submissions.Put(adt.UIntKey(dlIdx), sub); err != nil {
		return err
	}
	root, err := submissions.Root()
	if err != nil {
		return err
	}
	st.OptimisticPoStSubmissions = root
	return nil
}

// TakeOptimisticPoStSubmission removes and returns the disputable submission
// recorded for dlIdx, if any.
func (st *State) TakeOptimisticPoStSubmission(store adt.Store, dlIdx uint64) (*WindowedPoStSubmission, bool, error) {
	submissions, err := adt.AsMap(store, st.OptimisticPoStSubmissions)
	if err != nil {
		return nil, false, err
	}
	var sub WindowedPoStSubmission
	found, err := submissions.Get(adt.UIntKey(dlIdx), &sub)
	if err != nil || !found {
		return nil, found, err
	}
	if err := submissions.Delete(adt.UIntKey(dlIdx)); err != nil {
		return nil, false, err
	}
	root, err := submissions.Root()
	if err != nil {
		return nil, false, err
	}
	st.OptimisticPoStSubmissions = root
	return &sub, true, nil
}

func (st *State) GetInfo(store adt.Store) (*MinerInfo, error) {
	var info MinerInfo
	if err := store.Get(store.Context(), st.Info, &info); err != nil {
		return nil, fmt.Errorf("failed to get miner info: %w", err)
	}
	return &info, nil
}

func (st *State) SaveInfo(store adt.Store, info *MinerInfo) error {
	c, err := store.Put(store.Context(), info)
	if err != nil {
		return err
	}
	st.Info = c
	return nil
}

// GetAvailableBalance is the portion of the actor's balance not already
// committed as pre-commit deposit, locked pledge/vesting funds, or owed as
// fee debt: the only part WithdrawBalance may draw from.
func (st *State) GetAvailableBalance(actorBalance abi.TokenAmount) abi.TokenAmount {
	available := big.Sub(st.GetUnlockedBalance(actorBalance), st.FeeDebt)
	if available.LessThan(big.Zero()) {
		available = big.Zero()
	}
	return available
}

// GetUnlockedBalance is the actor's balance minus its pre-commit deposits
// and locked (vesting) funds, before accounting for fee debt. Going
// negative here means the actor's balance invariant is already broken
// upstream of this call, not bad input, so it panics rather than erroring.
func (st *State) GetUnlockedBalance(actorBalance abi.TokenAmount) abi.TokenAmount {
	unlocked := big.Sub(big.Sub(actorBalance, st.PreCommitDeposits), st.LockedFunds)
	if unlocked.LessThan(big.Zero()) {
		panic("negative unlocked balance")
	}
	return unlocked
}

// AssertBalanceInvariants panics if the actor's on-chain balance has
// fallen below the sum of its committed obligations (§8 balance
// invariant): this can never legitimately happen and indicates a bug
// upstream of the call site, not bad input.
func (st *State) AssertBalanceInvariants(balance abi.TokenAmount) {
	if st.PreCommitDeposits.LessThan(big.Zero()) {
		panic("pre-commit deposit is negative")
	}
	if st.LockedFunds.LessThan(big.Zero()) {
		panic("locked funds is negative")
	}
	if balance.LessThan(big.Add(st.PreCommitDeposits, st.LockedFunds)) {
		panic("balance invariant broken: balance less than PCD + locked funds")
	}
}

func (st *State) AddPreCommitDeposit(amount abi.TokenAmount) {
	st.PreCommitDeposits = big.Add(st.PreCommitDeposits, amount)
}

func (st *State) AddInitialPledgeRequirement(amount abi.TokenAmount) {
	st.InitialPledge = big.Add(st.InitialPledge, amount)
}

// AddLockedFunds first unlocks whatever is already due at currEpoch (since
// the caller is about to add more to the same schedule, it settles the old
// balance first), then schedules vestingSum to vest per spec. It returns
// the amount unlocked by that first step.
func (st *State) AddLockedFunds(store adt.Store, currEpoch abi.ChainEpoch, vestingSum abi.TokenAmount, spec *VestSpec) (abi.TokenAmount, error) {
	vf, err := st.loadVestingFunds(store)
	if err != nil {
		return big.Zero(), err
	}

	amountUnlocked := vf.UnlockVestedFunds(currEpoch)
	st.LockedFunds = big.Sub(st.LockedFunds, amountUnlocked)
	if st.LockedFunds.LessThan(big.Zero()) {
		return big.Zero(), fmt.Errorf("unlocking funds caused locked funds to go negative")
	}

	vf.AddLockedFunds(currEpoch, vestingSum, *spec)
	st.LockedFunds = big.Add(st.LockedFunds, vestingSum)

	c, err := store.Put(store.Context(), vf)
	if err != nil {
		return big.Zero(), err
	}
	st.VestingFunds = c
	return amountUnlocked, nil
}

func (st *State) loadVestingFunds(store adt.Store) (*VestingFunds, error) {
	var vf VestingFunds
	if err := store.Get(store.Context(), st.VestingFunds, &vf); err != nil {
		return nil, fmt.Errorf("failed to load vesting funds: %w", err)
	}
	return &vf, nil
}

// UnlockVestedFunds releases every vesting installment due at or before
// currEpoch, reducing LockedFunds by the same amount.
func (st *State) UnlockVestedFunds(store adt.Store, currEpoch abi.ChainEpoch) (abi.TokenAmount, error) {
	vf, err := st.loadVestingFunds(store)
	if err != nil {
		return big.Zero(), err
	}
	amount := vf.UnlockVestedFunds(currEpoch)
	st.LockedFunds = big.Sub(st.LockedFunds, amount)
	if st.LockedFunds.LessThan(big.Zero()) {
		return big.Zero(), fmt.Errorf("vesting cause locked funds to go negative")
	}
	c, err := store.Put(store.Context(), vf)
	if err != nil {
		return big.Zero(), err
	}
	st.VestingFunds = c
	return amount, nil
}

// PenalizeFundsInPriorityOrder pays a penalty first out of unvested vesting
// funds (clawed back before they ever unlock), then out of unlocked
// balance, per §4.5's penalty-sourcing order.
func (st *State) PenalizeFundsInPriorityOrder(store adt.Store, currEpoch abi.ChainEpoch, target abi.TokenAmount, unlockedBalance abi.TokenAmount) (fromVesting, fromBalance abi.TokenAmount, err error) {
	vf, err := st.loadVestingFunds(store)
	if err != nil {
		return big.Zero(), big.Zero(), err
	}
	fromVesting = vf.RemoveVestingFunds(currEpoch, target)
	st.LockedFunds = big.Sub(st.LockedFunds, fromVesting)
	c, err := store.Put(store.Context(), vf)
	if err != nil {
		return big.Zero(), big.Zero(), err
	}
	st.VestingFunds = c

	remaining := big.Sub(target, fromVesting)
	fromBalance = big.Min(remaining, unlockedBalance)
	if fromBalance.LessThan(big.Zero()) {
		fromBalance = big.Zero()
	}
	return fromVesting, fromBalance, nil
}

// RepayPartialDebtInPriorityOrder is identical to repaying FeeDebt via
// PenalizeFundsInPriorityOrder but stops early once FeeDebt reaches zero.
func (st *State) RepayPartialDebtInPriorityOrder(store adt.Store, currEpoch abi.ChainEpoch, currBalance abi.TokenAmount) (abi.TokenAmount, error) {
	unlocked := st.GetUnlockedBalance(currBalance)
	toRepay := big.Min(st.FeeDebt, unlocked)
	if toRepay.LessThan(big.Zero()) {
		toRepay = big.Zero()
	}
	fromVesting, fromBalance, err := st.PenalizeFundsInPriorityOrder(store, currEpoch, toRepay, unlocked)
	if err != nil {
		return big.Zero(), err
	}
	paid := big.Add(fromVesting, fromBalance)
	st.FeeDebt = big.Sub(st.FeeDebt, paid)
	return paid, nil
}

func (st *State) ApplyPenalty(amount abi.TokenAmount) {
	st.FeeDebt = big.Add(st.FeeDebt, amount)
}

// DeadlineInfo computes the miner's proving-period/deadline position at
// currEpoch from ProvingPeriodStart and CurrentDeadline, stepping the period
// start back one proving period if currEpoch is before it. It does not roll
// the period start forward for periods that elapsed without cron running.
func (st *State) DeadlineInfo(currEpoch abi.ChainEpoch) *DeadlineInfo {
	periodStart := st.ProvingPeriodStart
	deadlineIdx := st.CurrentDeadline
	if currEpoch < periodStart {
		periodStart -= WPoStProvingPeriod
	}
	return NewDeadlineInfo(periodStart, deadlineIdx, currEpoch)
}

func (st *State) QuantSpecForDeadline(dlIdx uint64) QuantSpec {
	di := NewDeadlineInfo(st.ProvingPeriodStart, dlIdx, 0).NextNotElapsed()
	return NewQuantSpec(WPoStProvingPeriod, di.Last())
}

func (st *State) LoadDeadlines(store adt.Store) (*Deadlines, error) {
	var dls Deadlines
	if err := store.Get(store.Context(), st.Deadlines, &dls); err != nil {
		return nil, fmt.Errorf("failed to load deadlines: %w", err)
	}
	return &dls, nil
}

func (st *State) SaveDeadlines(store adt.Store, dls *Deadlines) error {
	c, err := store.Put(store.Context(), dls)
	if err != nil {
		return err
	}
	st.Deadlines = c
	return nil
}

// AssignSectorsToDeadlines distributes newly-proven sectors round-robin
// across deadlines (starting from the one with the fewest sectors already)
// and packs them into partitions of partitionSize, returning the updated
// Deadlines object and the total power added.
func (st *State) AssignSectorsToDeadlines(store adt.Store, currEpoch abi.ChainEpoch, sectors []*SectorOnChainInfo, partitionSize uint64, sectorSize abi.SectorSize) (*Deadlines, PowerPair, error) {
	dls, err := st.LoadDeadlines(store)
	if err != nil {
		return nil, PowerPair{}, err
	}

	type dlLoad struct {
		idx uint64
		dl  *Deadline
		cnt uint64
	}
	loaded := make([]dlLoad, 0, WPoStPeriodDeadlines)
	for i := uint64(0); i < WPoStPeriodDeadlines; i++ {
		dl, err := dls.LoadDeadline(store, i)
		if err != nil {
			return nil, PowerPair{}, err
		}
		loaded = append(loaded, dlLoad{idx: i, dl: dl, cnt: dl.LiveSectors})
	}

	totalPower := NewPowerPairZero()
	for _, s := range sectors {
		best := loaded[0]
		for _, l := range loaded {
			if l.cnt < best.cnt {
				best = l
			}
		}
		quant := st.QuantSpecForDeadline(best.idx)
		power, err := best.dl.AddSectors(store, partitionSize, false, []*SectorOnChainInfo{s}, sectorSize, quant)
		if err != nil {
			return nil, PowerPair{}, err
		}
		totalPower = totalPower.Add(power)
		for i := range loaded {
			if loaded[i].idx == best.idx {
				loaded[i].cnt++
			}
		}
	}

	for _, l := range loaded {
		if err := dls.UpdateDeadline(store, l.idx, l.dl); err != nil {
			return nil, PowerPair{}, err
		}
	}

	return dls, totalPower, nil
}

// --- sectors ---

func (st *State) HasSectorNo(store adt.Store, sectorNo abi.SectorNumber) (bool, error) {
	sectors, err := LoadSectors(store, st.Sectors)
	if err != nil {
		return false, err
	}
	_, found, err := sectors.Get(sectorNo)
	return found, err
}

func (st *State) GetSector(store adt.Store, sectorNo abi.SectorNumber) (*SectorOnChainInfo, bool, error) {
	sectors, err := LoadSectors(store, st.Sectors)
	if err != nil {
		return nil, false, err
	}
	return sectors.Get(sectorNo)
}

func (st *State) PutSectors(store adt.Store, newSectors ...*SectorOnChainInfo) error {
	sectors, err := LoadSectors(store, st.Sectors)
	if err != nil {
		return err
	}
	if err := sectors.Store(newSectors...); err != nil {
		return err
	}
	root, err := sectors.Root()
	if err != nil {
		return err
	}
	st.Sectors = root
	return nil
}

func (st *State) DeleteSectors(store adt.Store, sectorNos bitfield.BitField) error {
	sectors, err := LoadSectors(store, st.Sectors)
	if err != nil {
		return err
	}
	if err := sectors.Delete(sectorNos); err != nil {
		return err
	}
	root, err := sectors.Root()
	if err != nil {
		return err
	}
	st.Sectors = root
	return nil
}

func (st *State) LoadSectorInfos(store adt.Store, sectorNos bitfield.BitField) ([]*SectorOnChainInfo, error) {
	sectors, err := LoadSectors(store, st.Sectors)
	if err != nil {
		return nil, err
	}
	return sectors.Load(sectorNos)
}

// AllocateSectorNumber records sectorNo as used, rejecting a reused number;
// this survives sector termination, so a terminated number can never be
// reissued.
func (st *State) AllocateSectorNumber(store adt.Store, sectorNo abi.SectorNumber) error {
	var allocated bitfield.BitField
	if err := store.Get(store.Context(), st.AllocatedSectors, &allocated); err != nil {
		return fmt.Errorf("failed to load allocated sectors: %w", err)
	}
	set, err := allocated.IsSet(uint64(sectorNo))
	if err != nil {
		return err
	}
	if set {
		return fmt.Errorf("sector number %d has already been allocated", sectorNo)
	}
	allocated = bitfield.MergeBitFields(allocated, bitfield.NewFromSet([]uint64{uint64(sectorNo)}))
	c, err := store.Put(store.Context(), &allocated)
	if err != nil {
		return err
	}
	st.AllocatedSectors = c
	return nil
}

func (st *State) MaskSectorNumbers(store adt.Store, sectorNos bitfield.BitField) error {
	var allocated bitfield.BitField
	if err := store.Get(store.Context(), st.AllocatedSectors, &allocated); err != nil {
		return fmt.Errorf("failed to load allocated sectors: %w", err)
	}
	allocated = bitfield.MergeBitFields(allocated, sectorNos)
	c, err := store.Put(store.Context(), &allocated)
	if err != nil {
		return err
	}
	st.AllocatedSectors = c
	return nil
}

// --- pre-commits ---

func (st *State) GetPrecommittedSector(store adt.Store, sectorNo abi.SectorNumber) (*SectorPreCommitOnChainInfo, bool, error) {
	m, err := adt.AsMap(store, st.PreCommittedSectors)
	if err != nil {
		return nil, false, err
	}
	var info SectorPreCommitOnChainInfo
	found, err := m.Get(adt.UIntKey(uint64(sectorNo)), &info)
	if err != nil || !found {
		return nil, found, err
	}
	return &info, true, nil
}

func (st *State) FindPrecommittedSectors(store adt.Store, sectorNos ...abi.SectorNumber) ([]*SectorPreCommitOnChainInfo, error) {
	m, err := adt.AsMap(store, st.PreCommittedSectors)
	if err != nil {
		return nil, err
	}
	var out []*SectorPreCommitOnChainInfo
	for _, no := range sectorNos {
		var info SectorPreCommitOnChainInfo
		found, err := m.Get(adt.UIntKey(uint64(no)), &info)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, &info)
		}
	}
	return out, nil
}

func (st *State) PutPrecommittedSector(store adt.Store, info *SectorPreCommitOnChainInfo) error {
	m, err := adt.AsMap(store, st.PreCommittedSectors)
	if err != nil {
		return err
	}
	if err := m.Put(adt.UIntKey(uint64(info.Info.SectorNumber)), info); err != nil {
		return err
	}
	root, err := m.Root()
	if err != nil {
		return err
	}
	st.PreCommittedSectors = root
	return nil
}

func (st *State) DeletePrecommittedSectors(store adt.Store, sectorNos ...abi.SectorNumber) error {
	m, err := adt.AsMap(store, st.PreCommittedSectors)
	if err != nil {
		return err
	}
	for _, no := range sectorNos {
		if err := m.Delete(adt.UIntKey(uint64(no))); err != nil {
			return err
		}
	}
	root, err := m.Root()
	if err != nil {
		return err
	}
	st.PreCommittedSectors = root
	return nil
}

func (st *State) AddPreCommitExpiry(store adt.Store, expiryEpoch abi.ChainEpoch, sectorNo abi.SectorNumber) error {
	queue, err := LoadBitfieldQueue(store, st.PreCommittedSectorsExpiry, NoQuantization)
	if err != nil {
		return err
	}
	if err := queue.AddToQueueValues(expiryEpoch, uint64(sectorNo)); err != nil {
		return err
	}
	root, err := queue.Root()
	if err != nil {
		return err
	}
	st.PreCommittedSectorsExpiry = root
	return nil
}

// ExpirePreCommits removes and returns every pre-commitment whose
// expiry-queue entry is due at or before currEpoch, along with the deposit
// to forfeit.
func (st *State) ExpirePreCommits(store adt.Store, currEpoch abi.ChainEpoch) (depositToBurn abi.TokenAmount, err error) {
	queue, err := LoadBitfieldQueue(store, st.PreCommittedSectorsExpiry, NoQuantization)
	if err != nil {
		return big.Zero(), err
	}
	expired, found, err := queue.PopUntil(currEpoch)
	if err != nil {
		return big.Zero(), err
	}
	if !found {
		return big.Zero(), nil
	}
	root, err := queue.Root()
	if err != nil {
		return big.Zero(), err
	}
	st.PreCommittedSectorsExpiry = root

	var sectorNos []abi.SectorNumber
	if err := expired.ForEach(func(i uint64) error {
		sectorNos = append(sectorNos, abi.SectorNumber(i))
		return nil
	}); err != nil {
		return big.Zero(), err
	}

	precommits, err := st.FindPrecommittedSectors(store, sectorNos...)
	if err != nil {
		return big.Zero(), err
	}

	depositToBurn = big.Zero()
	for _, p := range precommits {
		depositToBurn = big.Add(depositToBurn, p.PreCommitDeposit)
		st.PreCommitDeposits = big.Sub(st.PreCommitDeposits, p.PreCommitDeposit)
	}
	if err := st.DeletePrecommittedSectors(store, sectorNos...); err != nil {
		return big.Zero(), err
	}
	return depositToBurn, nil
}

// --- early terminations ---

func (st *State) AddEarlyTerminations(dlIdxs bitfield.BitField) {
	st.EarlyTerminations = bitfield.MergeBitFields(st.EarlyTerminations, dlIdxs)
}

func (st *State) HasPendingEarlyTerminations() (bool, error) {
	empty, err := st.EarlyTerminations.IsEmpty()
	return !empty, err
}

// PopEarlyTerminations pulls early-terminated sector info out of up to
// maxPartitions partitions across up to maxDeadlines deadlines, for
// notifying the market actor; returns whether more remain.
func (st *State) PopEarlyTerminations(store adt.Store, maxDeadlines, maxPartitions uint64) (result TerminationResult, hasMore bool, err error) {
	dls, err := st.LoadDeadlines(store)
	if err != nil {
		return TerminationResult{}, false, err
	}
	result = TerminationResult{Sectors: bitfield.New()}
	var remainingDeadlines []uint64
	processed := uint64(0)

	if err := st.EarlyTerminations.ForEach(func(dlIdx uint64) error {
		if processed >= maxDeadlines {
			remainingDeadlines = append(remainingDeadlines, dlIdx)
			return nil
		}
		processed++
		dl, err := dls.LoadDeadline(store, dlIdx)
		if err != nil {
			return err
		}
		var partsDone []uint64
		budget := maxPartitions
		if err := dl.EarlyTerminations.ForEach(func(partIdx uint64) error {
			if budget == 0 {
				return nil
			}
			part, err := dl.LoadPartition(store, partIdx)
			if err != nil {
				return err
			}
			r, _, err := part.PopEarlyTerminations(store, AddressedSectorsMax)
			if err != nil {
				return err
			}
			result.Sectors = bitfield.MergeBitFields(result.Sectors, r.Sectors)
			partitions, err := dl.PartitionsArray(store)
			if err != nil {
				return err
			}
			if err := partitions.Set(partIdx, part); err != nil {
				return err
			}
			if err := dl.savePartitions(store, partitions); err != nil {
				return err
			}
			partsDone = append(partsDone, partIdx)
			budget--
			return nil
		}); err != nil {
			return err
		}
		dl.EarlyTerminations = bitfield.SubtractBitField(dl.EarlyTerminations, bitfield.NewFromSet(partsDone))
		return dls.UpdateDeadline(store, dlIdx, dl)
	}); err != nil {
		return TerminationResult{}, false, err
	}

	st.EarlyTerminations = bitfield.NewFromSet(remainingDeadlines)
	if err := st.SaveDeadlines(store, dls); err != nil {
		return TerminationResult{}, false, err
	}
	hasMore = len(remainingDeadlines) > 0
	return result, hasMore, nil
}

// --- cron / deadline advance ---

// AdvanceDeadline rolls ProvingPeriodStart/CurrentDeadline forward by one
// deadline and processes the deadline that just closed, returning the
// power lost to missed PoSts. The result's PledgeDelta is always zero.
func (st *State) AdvanceDeadline(store adt.Store, currEpoch abi.ChainEpoch) (*AdvanceDeadlineResult, error) {
	dlInfo := st.DeadlineInfo(currEpoch)
	if !dlInfo.PeriodStarted() {
		return &AdvanceDeadlineResult{
			DetectedFaultyPower: NewPowerPairZero(),
			TotalFaultyPower:    NewPowerPairZero(),
			PowerDelta:          NewPowerPairZero(),
			PledgeDelta:         big.Zero(),
		}, nil
	}

	dls, err := st.LoadDeadlines(store)
	if err != nil {
		return nil, err
	}
	dl, err := dls.LoadDeadline(store, dlInfo.Index)
	if err != nil {
		return nil, err
	}

	quant := st.QuantSpecForDeadline(dlInfo.Index)
	newFaultyPower, failedRecoveryPower, err := dl.ProcessDeadlineEnd(store, quant, dlInfo.Last()+FaultMaxAge)
	if err != nil {
		return nil, err
	}

	if !isEmptyOrPanic(dl.EarlyTerminations) {
		st.AddEarlyTerminations(bitfield.NewFromSet([]uint64{dlInfo.Index}))
	}

	if err := dls.UpdateDeadline(store, dlInfo.Index, dl); err != nil {
		return nil, err
	}
	if err := st.SaveDeadlines(store, dls); err != nil {
		return nil, err
	}

	if dlInfo.Index == WPoStPeriodDeadlines-1 {
		st.ProvingPeriodStart = dlInfo.PeriodStart + WPoStProvingPeriod
		st.CurrentDeadline = 0
	} else {
		st.CurrentDeadline = dlInfo.Index + 1
	}

	totalFaulty := newFaultyPower.Add(failedRecoveryPower)
	return &AdvanceDeadlineResult{
		DetectedFaultyPower: newFaultyPower,
		TotalFaultyPower:    totalFaulty,
		PowerDelta:          newFaultyPower.Neg(),
		PledgeDelta:         big.Zero(),
	}, nil
}

// AdvanceDeadlineResult summarizes the effect of closing out one deadline
// at cron: DetectedFaultyPower is power newly discovered faulty this round
// (a missed PoSt on a previously-healthy partition), while TotalFaultyPower
// also includes sectors that were already faulty and failed to recover.
// Only DetectedFaultyPower requires a claimed-power update, since
// already-faulty sectors were never contributing power in the first place.
type AdvanceDeadlineResult struct {
	DetectedFaultyPower PowerPair
	TotalFaultyPower    PowerPair
	PowerDelta          PowerPair
	PledgeDelta         abi.TokenAmount
}

// IsEmptyOrPanic reports whether a bitfield is empty, panicking on the
// (unexpected) error from a malformed RLE, matching the teacher's "this
// can't actually fail" idiom for fields we always construct ourselves.
func isEmptyOrPanic(bf bitfield.BitField) bool {
	empty, err := bf.IsEmpty()
	if err != nil {
		panic(err)
	}
	return empty
}

// CheckSectorHealth reports whether a sector is currently live, faulty, or
// terminated, by scanning the deadline/partition it's assigned to. Used
// by the replica-update path and by validateReplaceSector.
func (st *State) CheckSectorHealth(store adt.Store, dlIdx, partIdx uint64, sectorNo abi.SectorNumber) (live, faulty, terminated bool, err error) {
	dls, err := st.LoadDeadlines(store)
	if err != nil {
		return false, false, false, err
	}
	dl, err := dls.LoadDeadline(store, dlIdx)
	if err != nil {
		return false, false, false, err
	}
	part, err := dl.LoadPartition(store, partIdx)
	if err != nil {
		return false, false, false, err
	}
	set, err := part.Sectors.IsSet(uint64(sectorNo))
	if err != nil {
		return false, false, false, err
	}
	fault, err := part.Faults.IsSet(uint64(sectorNo))
	if err != nil {
		return false, false, false, err
	}
	term, err := part.Terminated.IsSet(uint64(sectorNo))
	if err != nil {
		return false, false, false, err
	}
	return set && !term, fault, term, nil
}

// RescheduleSectorExpirations is invoked from ConfirmSectorProofsValid for
// every sector a new proof licensed to replace (precommit.Info.
// ReplaceCapacity): the replaced sector can't be dropped immediately,
// because it's due to be challenged again before its replacement takes
// over, so its expiration is moved up to the end of its deadline's next
// (not-yet-elapsed) challenge window instead. Returns the replaced
// sectors' PRE-extension on-chain info, which the caller reads (old
// Activation/ExpectedDayReward) to compute the new sector's termination
// fee basis.
func (st *State) RescheduleSectorExpirations(store adt.Store, currEpoch abi.ChainEpoch, sectorSize abi.SectorSize, replaceSectors DeadlineSectorMap) ([]*SectorOnChainInfo, error) {
	if len(replaceSectors) == 0 {
		return nil, nil
	}

	dls, err := st.LoadDeadlines(store)
	if err != nil {
		return nil, err
	}
	sectors, err := LoadSectors(store, st.Sectors)
	if err != nil {
		return nil, err
	}

	var replaced []*SectorOnChainInfo
	var updated []*SectorOnChainInfo

	if err := replaceSectors.ForEach(func(dlIdx uint64, pm PartitionSectorMap) error {
		dl, err := dls.LoadDeadline(store, dlIdx)
		if err != nil {
			return err
		}
		partitions, err := dl.PartitionsArray(store)
		if err != nil {
			return err
		}
		quant := st.QuantSpecForDeadline(dlIdx)
		newExpiration := NewDeadlineInfo(st.ProvingPeriodStart, dlIdx, currEpoch).NextNotElapsed().Last()

		for _, partIdx := range pm.sortedKeys() {
			var part Partition
			found, err := partitions.Get(partIdx, &part)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			oldInfos, err := sectors.Load(pm[partIdx])
			if err != nil {
				return err
			}
			if len(oldInfos) == 0 {
				continue
			}
			expirations, err := LoadExpirationQueue(store, part.ExpirationsEpochs, quant)
			if err != nil {
				return err
			}
			if err := expirations.RescheduleExpirations(newExpiration, oldInfos, sectorSize); err != nil {
				return err
			}
			root, err := expirations.Root()
			if err != nil {
				return err
			}
			part.ExpirationsEpochs = root
			if err := partitions.Set(partIdx, &part); err != nil {
				return err
			}

			for _, s := range oldInfos {
				replaced = append(replaced, s)
				cp := *s
				cp.Expiration = newExpiration
				updated = append(updated, &cp)
			}
		}

		if err := dl.savePartitions(store, partitions); err != nil {
			return err
		}
		return dls.UpdateDeadline(store, dlIdx, dl)
	}); err != nil {
		return nil, err
	}

	if err := sectors.Store(updated...); err != nil {
		return nil, err
	}
	root, err := sectors.Root()
	if err != nil {
		return nil, err
	}
	st.Sectors = root

	if err := st.SaveDeadlines(store, dls); err != nil {
		return nil, err
	}
	return replaced, nil
}
