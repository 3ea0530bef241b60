package big

import (
	"math/big"

	cbg "github.com/whyrusleeping/cbor-gen"
)

// Int is an arbitrary-precision signed integer, used throughout the actor
// for token amounts and power values. It wraps math/big.Int so that all
// monetary and power arithmetic goes through one deterministic code path;
// CBOR encoding is the varint-prefixed big-endian two's-complement-free
// representation used by cbor-gen's IntAtlas (sign byte + magnitude).
type Int struct {
	*big.Int
}

// NewInt allocates a new Int set to the given signed value.
func NewInt(i int64) Int {
	return Int{big.NewInt(i)}
}

// NewIntUnsigned allocates a new Int set to the given unsigned value.
func NewIntUnsigned(i uint64) Int {
	return Int{new(big.Int).SetUint64(i)}
}

// NewFromGo wraps an existing math/big.Int without copying.
func NewFromGo(i *big.Int) Int {
	return Int{i}
}

// Zero returns a new Int set to zero.
func Zero() Int {
	return NewInt(0)
}

// PositiveFromUnsignedBytes interprets raw bytes as an unsigned big-endian magnitude.
func PositiveFromUnsignedBytes(raw []byte) Int {
	return Int{new(big.Int).SetBytes(raw)}
}

func (bi Int) fallbackZero() *big.Int {
	if bi.Int == nil {
		return big.NewInt(0)
	}
	return bi.Int
}

func Add(a, b Int) Int {
	return Int{new(big.Int).Add(a.fallbackZero(), b.fallbackZero())}
}

func Sub(a, b Int) Int {
	return Int{new(big.Int).Sub(a.fallbackZero(), b.fallbackZero())}
}

func Mul(a, b Int) Int {
	return Int{new(big.Int).Mul(a.fallbackZero(), b.fallbackZero())}
}

func Div(a, b Int) Int {
	return Int{new(big.Int).Div(a.fallbackZero(), b.fallbackZero())}
}

func Mod(a, b Int) Int {
	return Int{new(big.Int).Mod(a.fallbackZero(), b.fallbackZero())}
}

// DivCeil computes ceil(a/b) for a non-negative divisor b > 0.
func DivCeil(a, b Int) Int {
	q, r := new(big.Int), new(big.Int)
	q.DivMod(a.fallbackZero(), b.fallbackZero(), r)
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return Int{q}
}

func Exp(base, exponent Int) Int {
	return Int{new(big.Int).Exp(base.fallbackZero(), exponent.fallbackZero(), nil)}
}

func Lsh(a Int, n uint) Int {
	return Int{new(big.Int).Lsh(a.fallbackZero(), n)}
}

func Rsh(a Int, n uint) Int {
	return Int{new(big.Int).Rsh(a.fallbackZero(), n)}
}

func Min(a, b Int) Int {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b Int) Int {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func (bi Int) Neg() Int {
	return Int{new(big.Int).Neg(bi.fallbackZero())}
}

func (bi Int) Abs() Int {
	return Int{new(big.Int).Abs(bi.fallbackZero())}
}

func (bi Int) Sign() int {
	if bi.Int == nil {
		return 0
	}
	return bi.Int.Sign()
}

func (bi Int) IsZero() bool {
	return bi.Sign() == 0
}

func (bi Int) LessThan(o Int) bool {
	return bi.fallbackZero().Cmp(o.fallbackZero()) < 0
}

func (bi Int) LessThanEqual(o Int) bool {
	return bi.fallbackZero().Cmp(o.fallbackZero()) <= 0
}

func (bi Int) GreaterThan(o Int) bool {
	return bi.fallbackZero().Cmp(o.fallbackZero()) > 0
}

func (bi Int) GreaterThanEqual(o Int) bool {
	return bi.fallbackZero().Cmp(o.fallbackZero()) >= 0
}

func (bi Int) Equals(o Int) bool {
	return bi.fallbackZero().Cmp(o.fallbackZero()) == 0
}

func (bi Int) Copy() Int {
	return Int{new(big.Int).Set(bi.fallbackZero())}
}

func (bi Int) String() string {
	return bi.fallbackZero().String()
}

var _ cbg.CBORMarshaler = Int{}
var _ cbg.CBORUnmarshaler = &Int{}
