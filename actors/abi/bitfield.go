package abi

import (
	"github.com/filecoin-project/go-bitfield"
)

// BitFieldContainsAll reports whether every bit set in subset is also set
// in superset.
func BitFieldContainsAll(superset, subset bitfield.BitField) (bool, error) {
	diff := bitfield.SubtractBitField(subset, superset)
	return diff.IsEmpty()
}
