// Package mock provides a Runtime implementation driven entirely by
// explicit test-author expectations: every inter-actor Send and caller
// validation the actor under test performs must have been pre-registered,
// and every registered expectation must be consumed, or Verify fails the
// test. This mirrors the teacher's own "expect, act, verify" test shape
// without needing a real VM around the actor.
package mock

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/minio/blake2b-simd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	abi "github.com/storageminer/specs-actors/actors/abi"
	big "github.com/storageminer/specs-actors/actors/abi/big"
	builtin "github.com/storageminer/specs-actors/actors/builtin"
	"github.com/storageminer/specs-actors/actors/builtin/cborutil"
	"github.com/storageminer/specs-actors/actors/crypto"
	vmr "github.com/storageminer/specs-actors/actors/runtime"
	"github.com/storageminer/specs-actors/actors/runtime/exitcode"
	"github.com/storageminer/specs-actors/actors/util/adt"
	cid "github.com/ipfs/go-cid"

	"github.com/storageminer/specs-actors/support/ipld"
)

// Runtime is a deliberately minimal, single-threaded stand-in for the host
// VM: it supplies just enough of vmr.Runtime to drive an actor method
// through its Store/State/Send/validate surface from a unit test.
type Runtime struct {
	t testing.TB
	ctx context.Context

	receiver addr.Address
	epoch    abi.ChainEpoch
	balance  big.Int
	circSupply big.Int
	baseFee  big.Int

	caller     addr.Address
	callerType cid.Cid
	value      big.Int

	idAddresses map[addr.Address]addr.Address
	actorCodes  map[addr.Address]cid.Cid

	store adt.Store
	stateBytes []byte

	expectValidateCallerAny   bool
	expectValidateCallerAddrs []addr.Address
	expectValidateCallerType  []interface{}
	validateCallerConsumed    bool

	expectSends []*expectedSend
}

type expectedSend struct {
	to     addr.Address
	method uint64
	params interface{}
	value  big.Int

	outReturn interface{}
	outCode   exitcode.ExitCode
}

// Builder constructs a Runtime with a fluent API, matching the teacher's
// table-driven test setup style.
type Builder struct {
	ctx      context.Context
	receiver addr.Address
	balance  big.Int
	circSupply big.Int
	epoch    abi.ChainEpoch
	caller   addr.Address
	callerType cid.Cid
	value    big.Int
	idAddresses map[addr.Address]addr.Address
	actorCodes  map[addr.Address]cid.Cid
}

func NewBuilder(ctx context.Context, receiver addr.Address) *Builder {
	return &Builder{
		ctx:         ctx,
		receiver:    receiver,
		balance:     big.Zero(),
		circSupply:  big.Zero(),
		idAddresses: map[addr.Address]addr.Address{},
		actorCodes:  map[addr.Address]cid.Cid{},
	}
}

func (b *Builder) WithBalance(balance, received big.Int) *Builder {
	b.balance = balance
	b.value = received
	return b
}

func (b *Builder) WithEpoch(epoch abi.ChainEpoch) *Builder {
	b.epoch = epoch
	return b
}

func (b *Builder) WithCaller(caller addr.Address, callerType cid.Cid) *Builder {
	b.caller = caller
	b.callerType = callerType
	b.actorCodes[caller] = callerType
	return b
}

// WithActorType records a, resolved, as having code code -- for control
// and worker address type checks in resolveControlAddress et al.
func (b *Builder) WithActorType(a addr.Address, code cid.Cid) *Builder {
	b.actorCodes[a] = code
	return b
}

// WithIDAddr records that id is the ID-address a resolves to.
func (b *Builder) WithIDAddr(a, id addr.Address) *Builder {
	b.idAddresses[a] = id
	return b
}

func (b *Builder) Build(t testing.TB) *Runtime {
	rt := &Runtime{
		t:           t,
		ctx:         b.ctx,
		receiver:    b.receiver,
		epoch:       b.epoch,
		balance:     b.balance,
		circSupply:  b.circSupply,
		caller:      b.caller,
		callerType:  b.callerType,
		value:       b.value,
		idAddresses: b.idAddresses,
		actorCodes:  b.actorCodes,
		store:       ipld.NewADTStore(),
	}
	return rt
}

var _ vmr.Runtime = (*Runtime)(nil)

func (rt *Runtime) Context() context.Context { return rt.ctx }

func (rt *Runtime) CurrEpoch() abi.ChainEpoch { return rt.epoch }
func (rt *Runtime) SetEpoch(e abi.ChainEpoch) { rt.epoch = e }

func (rt *Runtime) CurrentBalance() big.Int { return rt.balance }
func (rt *Runtime) SetBalance(b big.Int)    { rt.balance = b }

func (rt *Runtime) TotalFilCircSupply() big.Int { return rt.circSupply }
func (rt *Runtime) SetCirculatingSupply(b big.Int) { rt.circSupply = b }

func (rt *Runtime) BaseFee() big.Int     { return rt.baseFee }
func (rt *Runtime) SetBaseFee(b big.Int) { rt.baseFee = b }

type message struct {
	caller, receiver addr.Address
	value             big.Int
}

func (m message) Caller() addr.Address      { return m.caller }
func (m message) Receiver() addr.Address    { return m.receiver }
func (m message) ValueReceived() big.Int    { return m.value }

func (rt *Runtime) Message() vmr.Message {
	return message{caller: rt.caller, receiver: rt.receiver, value: rt.value}
}

// hostStore adapts the ctx/error-returning adt.Store the mock is built on
// to the panic-on-fatal-error vmr.Store surface actor code calls through
// rt.Store() directly.
type hostStore struct {
	ctx context.Context
	s   adt.Store
}

func (h hostStore) Context() context.Context { return h.ctx }

func (h hostStore) Put(v interface{}) cid.Cid {
	c, err := h.s.Put(h.ctx, v)
	if err != nil {
		panic(err)
	}
	return c
}

func (h hostStore) Get(c cid.Cid, out interface{}) bool {
	err := h.s.Get(h.ctx, c, out)
	return err == nil
}

func (rt *Runtime) Store() vmr.Store { return hostStore{ctx: rt.ctx, s: rt.store} }

func (rt *Runtime) GetRandomnessFromTickets(_ crypto.DomainSeparationTag, epoch abi.ChainEpoch, entropy []byte) abi.Randomness {
	return deterministicRandomness(epoch, entropy)
}

func (rt *Runtime) GetRandomnessFromBeacon(_ crypto.DomainSeparationTag, epoch abi.ChainEpoch, entropy []byte) abi.Randomness {
	return deterministicRandomness(epoch, entropy)
}

func deterministicRandomness(epoch abi.ChainEpoch, entropy []byte) abi.Randomness {
	h := blake2b.New256()
	_, _ = h.Write(entropy)
	_, _ = h.Write([]byte{byte(epoch)})
	return h.Sum(nil)
}

func (rt *Runtime) ResolveAddress(a addr.Address) (addr.Address, bool) {
	if a.Protocol() == addr.ID {
		return a, true
	}
	id, ok := rt.idAddresses[a]
	return id, ok
}

func (rt *Runtime) GetActorCodeCID(a addr.Address) (cid.Cid, bool) {
	c, ok := rt.actorCodes[a]
	return c, ok
}

func (rt *Runtime) ValidateImmediateCallerAcceptAny() {
	rt.validateCallerConsumed = true
	if !rt.expectValidateCallerAny {
		rt.t.Fatalf("unexpected call to ValidateImmediateCallerAcceptAny")
	}
	rt.expectValidateCallerAny = false
}

func (rt *Runtime) ValidateImmediateCallerIs(addrs ...addr.Address) {
	rt.validateCallerConsumed = true
	require.NotEmpty(rt.t, rt.expectValidateCallerAddrs, "unexpected call to ValidateImmediateCallerIs")
	for _, a := range addrs {
		if a == rt.caller {
			rt.expectValidateCallerAddrs = nil
			return
		}
	}
	rt.t.Fatalf("caller %v is not among expected callers %v", rt.caller, addrs)
}

func (rt *Runtime) ValidateImmediateCallerType(types ...interface{}) {
	rt.validateCallerConsumed = true
	require.NotEmpty(rt.t, rt.expectValidateCallerType, "unexpected call to ValidateImmediateCallerType")
	rt.expectValidateCallerType = nil
}

func (rt *Runtime) Abortf(code exitcode.ExitCode, msg string, args ...interface{}) {
	panic(abort{code: code, msg: fmtSprintf(msg, args...)})
}

type abort struct {
	code exitcode.ExitCode
	msg  string
}

func fmtSprintf(msg string, args ...interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return msg // detail is unused by tests; kept simple deliberately.
}

// ExpectAbort runs f, which must call rt.Abortf with the given exit code
// (directly or transitively); any other outcome fails the test.
func (rt *Runtime) ExpectAbort(code exitcode.ExitCode, f func()) {
	defer func() {
		r := recover()
		if r == nil {
			rt.t.Fatalf("expected abort with code %v but none occurred", code)
			return
		}
		a, ok := r.(abort)
		if !ok {
			panic(r)
		}
		assert.Equal(rt.t, code, a.code)
	}()
	f()
}

func (rt *Runtime) Log(vmr.LogLevel, string, ...interface{}) {}

// sendReturn adapts an arbitrary stored value to vmr.SendReturn by a
// reflective field copy into the caller's out-pointer.
type sendReturn struct {
	val interface{}
}

func (r sendReturn) Into(obj interface{}) error {
	if r.val == nil {
		return nil
	}
	reflect.ValueOf(obj).Elem().Set(reflect.ValueOf(r.val).Elem())
	return nil
}

func (rt *Runtime) Send(to addr.Address, method uint64, params interface{}, value big.Int) (vmr.SendReturn, exitcode.ExitCode) {
	require.NotEmpty(rt.t, rt.expectSends, "unexpected send to %v method %d", to, method)
	exp := rt.expectSends[0]
	rt.expectSends = rt.expectSends[1:]
	assert.Equal(rt.t, exp.to, to)
	assert.Equal(rt.t, exp.method, method)
	assert.Equal(rt.t, exp.value, value)
	if exp.params != nil {
		assert.Equal(rt.t, exp.params, params)
	}
	return sendReturn{val: exp.outReturn}, exp.outCode
}

// ExpectSend registers a Send the actor under test is expected to issue
// next, and what it should appear to return.
func (rt *Runtime) ExpectSend(to addr.Address, method uint64, params interface{}, value big.Int, outReturn interface{}, outCode exitcode.ExitCode) {
	rt.expectSends = append(rt.expectSends, &expectedSend{to: to, method: method, params: params, value: value, outReturn: outReturn, outCode: outCode})
}

func (rt *Runtime) ExpectValidateCallerAny() { rt.expectValidateCallerAny = true }

func (rt *Runtime) ExpectValidateCallerAddr(addrs ...addr.Address) {
	rt.expectValidateCallerAddrs = addrs
}

func (rt *Runtime) ExpectValidateCallerType(types ...interface{}) {
	rt.expectValidateCallerType = types
}

// Verify asserts that every registered expectation was consumed by the
// call under test.
func (rt *Runtime) Verify() {
	assert.Empty(rt.t, rt.expectSends, "expected sends were not made")
	assert.False(rt.t, rt.expectValidateCallerAny, "expected ValidateImmediateCallerAcceptAny was not made")
	assert.Empty(rt.t, rt.expectValidateCallerAddrs, "expected ValidateImmediateCallerIs was not made")
	assert.Empty(rt.t, rt.expectValidateCallerType, "expected ValidateImmediateCallerType was not made")
}

// SetCaller sets the message's apparent sender and (if non-nil) records
// its actor code, as builtin.IsPrincipal and friends check it.
func (rt *Runtime) SetCaller(a addr.Address, code cid.Cid) {
	rt.caller = a
	rt.actorCodes[a] = code
}

func (rt *Runtime) SetReceived(v big.Int) { rt.value = v }

// SetActorType records a as having code code, for tests that introduce a
// new address (e.g. a replacement worker) after Build.
func (rt *Runtime) SetActorType(a addr.Address, code cid.Cid) {
	rt.actorCodes[a] = code
}

// Syscalls exposes a fixed set of deterministic stand-ins for the
// cryptographic syscalls, always succeeding unless overridden per-test by
// wrapping Runtime (no test in this package needs a failing proof check).
func (rt *Runtime) Syscalls() vmr.Syscalls { return syscalls{} }

type syscalls struct{}

func (syscalls) HashBlake2b(data []byte) [32]byte {
	return blake2b.Sum256(data)
}
func (syscalls) VerifyConsensusFault(_, _, _ []byte) (*vmr.ConsensusFault, error) { return nil, nil }
func (syscalls) VerifySeal(abi.SealVerifyInfo) error                             { return nil }
func (syscalls) VerifyAggregateSeals(abi.AggregateSealVerifyProofAndInfos) error { return nil }
func (syscalls) VerifyReplicaUpdate(abi.ReplicaUpdateInfo) error                 { return nil }
func (syscalls) VerifyPoSt(vmr.WindowPoStVerifyInfo) error                      { return nil }

// stateManager implements vmr.StateManager over the Runtime's own
// serialized-state slot, round-tripping through DAG-CBOR on every
// Transaction/Readonly call the same way a real state tree commit would,
// so a test mutating stateObj outside of Transaction never sticks.
type stateManager struct {
	rt *Runtime
}

func (rt *Runtime) State() vmr.StateManager { return stateManager{rt: rt} }

func (s stateManager) Create(stateObj interface{}) {
	var buf bytes.Buffer
	require.NoError(s.rt.t, cborutil.Marshal(&buf, stateObj))
	s.rt.stateBytes = buf.Bytes()
}

func (s stateManager) Readonly(stateObj interface{}) {
	require.NotNil(s.rt.t, s.rt.stateBytes, "state not yet created")
	require.NoError(s.rt.t, cborutil.Unmarshal(bytes.NewReader(s.rt.stateBytes), stateObj))
}

func (s stateManager) Transaction(stateObj interface{}, f func()) {
	require.NotNil(s.rt.t, s.rt.stateBytes, "state not yet created")
	require.NoError(s.rt.t, cborutil.Unmarshal(bytes.NewReader(s.rt.stateBytes), stateObj))
	f()
	var buf bytes.Buffer
	require.NoError(s.rt.t, cborutil.Marshal(&buf, stateObj))
	s.rt.stateBytes = buf.Bytes()
}

// GetState decodes the current state root into stateObj for assertions,
// bypassing the Transaction/Readonly expectation machinery.
func (rt *Runtime) GetState(stateObj interface{}) {
	require.NoError(rt.t, cborutil.Unmarshal(bytes.NewReader(rt.stateBytes), stateObj))
}

// AdtStore exposes the runtime's backing store directly, for tests that
// build expected data structures (e.g. an expected Sectors AMT) to compare
// against the actor's own.
func (rt *Runtime) AdtStore() adt.Store { return rt.store }

// CheckActorExports is a light sanity check that every non-nil exported
// method number the actor registers is in fact a function, and that the
// constructor slot (index builtin.MethodConstructor, method 1) is filled.
func CheckActorExports(t testing.TB, actor interface{ Exports() []interface{} }) {
	exports := actor.Exports()
	require.NotEmpty(t, exports)
	require.NotNil(t, exports[builtin.MethodConstructor], "method 1 (constructor) must be exported")
	for i, fn := range exports {
		if fn == nil {
			continue
		}
		if reflect.ValueOf(fn).Kind() != reflect.Func {
			t.Fatalf("export at index %d is not a function", i)
		}
	}
}

var _ = builtin.MethodSend // keep builtin imported for callers of this package
