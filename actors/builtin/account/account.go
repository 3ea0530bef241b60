// Package account specifies only the slice of the Account actor's
// interface the miner actor depends on: recovering the BLS/secp256k1
// public key behind a worker or control ID-address, needed to verify
// Window PoSt and consensus-fault signatures.
package account

import (
	addr "github.com/filecoin-project/go-address"
)

type PubkeyAddressReturn struct {
	Address addr.Address
}
