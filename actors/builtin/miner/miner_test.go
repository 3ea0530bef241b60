package miner_test

import (
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	"github.com/storageminer/specs-actors/actors/builtin"
	"github.com/storageminer/specs-actors/actors/builtin/miner"
	"github.com/storageminer/specs-actors/actors/builtin/power"
	"github.com/storageminer/specs-actors/actors/runtime/exitcode"
	"github.com/storageminer/specs-actors/actors/util/adt"
	"github.com/storageminer/specs-actors/support/mock"
	tutil "github.com/storageminer/specs-actors/support/testing"
)

var testPid = abi.PeerID("test-peer-id")
var testMultiaddrs = []abi.Multiaddrs{[]byte("foo"), []byte("bar")}

var bigBalance = big.Mul(big.NewInt(1_000_000), big.NewInt(1e18))

func init() {
	// permit 2KiB sectors in tests, matching the proof type exercised below.
	miner.SupportedProofTypes[abi.RegisteredSealProof_StackedDrg2KiBV1] = struct{}{}
}

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, miner.Actor{})
}

// actorHarness fixes a miner's owner/worker identities across a test, the
// way the teacher's own harness pins a constructed actor's parameters.
type actorHarness struct {
	receiver addr.Address
	owner    addr.Address
	worker   addr.Address

	workerKey addr.Address // BLS pubkey behind worker, for resolveWorkerAddress's verification send

	sealProofType abi.RegisteredSealProof
}

func newHarness(t testing.TB) *actorHarness {
	return &actorHarness{
		receiver:      tutil.NewIDAddr(t, 1000),
		owner:         tutil.NewIDAddr(t, 100),
		worker:        tutil.NewIDAddr(t, 101),
		workerKey:     tutil.NewBLSAddr(t, 1),
		sealProofType: abi.RegisteredSealProof_StackedDrg2KiBV1,
	}
}

func (h *actorHarness) newRuntime(t testing.TB) *mock.Runtime {
	builder := mock.NewBuilder(context.Background(), h.receiver).
		WithBalance(bigBalance, big.Zero()).
		WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID).
		WithActorType(h.owner, builtin.AccountActorCodeID).
		WithActorType(h.worker, builtin.AccountActorCodeID)
	return builder.Build(t)
}

// expectQueryWorkerKey registers the Send ChangeWorkerAddress/Constructor
// issue to confirm the (ID-address) worker has an associated BLS key.
func (h *actorHarness) expectQueryWorkerKey(rt *mock.Runtime) {
	workerKey := h.workerKey
	rt.ExpectSend(h.worker, builtin.MethodsAccount.PubkeyAddress, nil, big.Zero(), &workerKey, exitcode.Ok)
}

func (h *actorHarness) constructAndVerify(t testing.TB, rt *mock.Runtime) {
	params := power.MinerConstructorParams{
		OwnerAddr:     h.owner,
		WorkerAddr:    h.worker,
		SealProofType: h.sealProofType,
		PeerId:        testPid,
		Multiaddrs:    testMultiaddrs,
	}

	rt.ExpectValidateCallerAddr(builtin.InitActorAddr)
	h.expectQueryWorkerKey(rt)
	rt.ExpectSend(builtin.StoragePowerActorAddr, builtin.MethodsPower.EnrollCronEvent, nil, big.Zero(), nil, exitcode.Ok)
	ret := miner.Actor{}.Constructor(rt, &params)
	assert.Nil(t, ret)
	rt.Verify()
}

func TestConstruction(t *testing.T) {
	h := newHarness(t)

	t.Run("successful construction", func(t *testing.T) {
		rt := h.newRuntime(t)
		h.constructAndVerify(t, rt)

		var st miner.State
		rt.GetState(&st)
		info, err := st.GetInfo(rt.AdtStore())
		require.NoError(t, err)
		assert.Equal(t, h.owner, info.Owner)
		assert.Equal(t, h.worker, info.Worker)
		assert.Equal(t, testPid, info.PeerId)
		assert.Equal(t, h.sealProofType, info.SealProofType)
	})

	t.Run("control addresses are rejected beyond the maximum", func(t *testing.T) {
		rt := h.newRuntime(t)
		params := power.MinerConstructorParams{
			OwnerAddr:     h.owner,
			WorkerAddr:    h.worker,
			SealProofType: h.sealProofType,
			PeerId:        testPid,
		}
		for i := 0; i < miner.MaxControlAddresses+1; i++ {
			params.ControlAddrs = append(params.ControlAddrs, tutil.NewIDAddr(t, uint64(2000+i)))
		}

		rt.ExpectValidateCallerAddr(builtin.InitActorAddr)
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			miner.Actor{}.Constructor(rt, &params)
		})
	})

	t.Run("unsupported seal proof type is rejected", func(t *testing.T) {
		rt := h.newRuntime(t)
		params := power.MinerConstructorParams{
			OwnerAddr:     h.owner,
			WorkerAddr:    h.worker,
			SealProofType: abi.RegisteredSealProof_StackedDrg512MiBV1,
			PeerId:        testPid,
		}
		rt.ExpectValidateCallerAddr(builtin.InitActorAddr)
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			miner.Actor{}.Constructor(rt, &params)
		})
	})
}

func TestControlAddresses(t *testing.T) {
	h := newHarness(t)
	rt := h.newRuntime(t)
	h.constructAndVerify(t, rt)

	rt.ExpectValidateCallerAny()
	ret := miner.Actor{}.ControlAddresses(rt, &adt.EmptyValue{})
	rt.Verify()

	assert.Equal(t, h.owner, ret.Owner)
	assert.Equal(t, h.worker, ret.Worker)
	assert.Empty(t, ret.ControlAddrs)
}

func TestChangePeerID(t *testing.T) {
	h := newHarness(t)
	rt := h.newRuntime(t)
	h.constructAndVerify(t, rt)

	newPID := tutil.MakePID("new-peer-id")
	rt.SetCaller(h.worker, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerAddr(h.owner, h.worker)
	ret := miner.Actor{}.ChangePeerID(rt, &miner.ChangePeerIDParams{NewID: newPID})
	assert.Nil(t, ret)
	rt.Verify()

	var st miner.State
	rt.GetState(&st)
	info, err := st.GetInfo(rt.AdtStore())
	require.NoError(t, err)
	assert.Equal(t, newPID, info.PeerId)
}

func TestChangePeerIDRejectsOversizedID(t *testing.T) {
	h := newHarness(t)
	rt := h.newRuntime(t)
	h.constructAndVerify(t, rt)

	oversized := make([]byte, miner.MaxPeerIDLength+1)
	rt.SetCaller(h.worker, builtin.AccountActorCodeID)
	rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
		miner.Actor{}.ChangePeerID(rt, &miner.ChangePeerIDParams{NewID: oversized})
	})
}

func TestChangeWorkerAddress(t *testing.T) {
	h := newHarness(t)
	rt := h.newRuntime(t)
	h.constructAndVerify(t, rt)

	newWorker := tutil.NewIDAddr(t, 999)
	rt.SetActorType(newWorker, builtin.AccountActorCodeID)

	rt.SetCaller(h.owner, builtin.AccountActorCodeID)
	h.expectQueryWorkerKey2(rt, newWorker)
	rt.ExpectValidateCallerAddr(h.owner)
	rt.ExpectSend(builtin.StoragePowerActorAddr, builtin.MethodsPower.EnrollCronEvent, nil, big.Zero(), nil, exitcode.Ok)
	ret := miner.Actor{}.ChangeWorkerAddress(rt, &miner.ChangeWorkerAddressParams{NewWorker: newWorker})
	assert.Nil(t, ret)
	rt.Verify()

	var st miner.State
	rt.GetState(&st)
	info, err := st.GetInfo(rt.AdtStore())
	require.NoError(t, err)
	require.NotNil(t, info.PendingWorkerKey)
	assert.Equal(t, newWorker, info.PendingWorkerKey.NewWorker)
}

func (h *actorHarness) expectQueryWorkerKey2(rt *mock.Runtime, worker addr.Address) {
	workerKey := h.workerKey
	rt.ExpectSend(worker, builtin.MethodsAccount.PubkeyAddress, nil, big.Zero(), &workerKey, exitcode.Ok)
}
