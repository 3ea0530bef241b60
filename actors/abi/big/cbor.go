package big

import (
	"fmt"
	"io"
	"io/ioutil"
	"math/big"

	cbg "github.com/whyrusleeping/cbor-gen"
)

// MarshalCBOR writes the big-endian two's complement-free encoding used
// throughout go-state-types: a byte-string whose first byte is a sign flag
// (0 positive, 1 negative) followed by the unsigned magnitude.
func (bi Int) MarshalCBOR(w io.Writer) error {
	if bi.Int == nil {
		return cbg.WriteMajorTypeHeader(w, cbg.MajByteString, 0)
	}
	v := bi.Int
	sign := v.Sign()
	if sign == 0 {
		return cbg.WriteMajorTypeHeader(w, cbg.MajByteString, 0)
	}
	mag := new(big.Int).Abs(v).Bytes()
	buf := make([]byte, len(mag)+1)
	if sign < 0 {
		buf[0] = 1
	}
	copy(buf[1:], mag)
	if err := cbg.WriteMajorTypeHeader(w, cbg.MajByteString, uint64(len(buf))); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func (bi *Int) UnmarshalCBOR(r io.Reader) error {
	br, ok := r.(cbg.ByteReader)
	if !ok {
		br = cbg.GetPeeker(r)
	}
	maj, l, err := cbg.CborReadHeaderBuf(br, make([]byte, 8))
	if err != nil {
		return err
	}
	if maj != cbg.MajByteString {
		return fmt.Errorf("big.Int: unexpected cbor major type %d", maj)
	}
	if l == 0 {
		bi.Int = big.NewInt(0)
		return nil
	}
	buf, err := ioutil.ReadAll(io.LimitReader(br, int64(l)))
	if err != nil {
		return err
	}
	v := new(big.Int).SetBytes(buf[1:])
	if buf[0] == 1 {
		v.Neg(v)
	}
	bi.Int = v
	return nil
}
