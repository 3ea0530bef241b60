// Package cborutil backs the hand-maintained MarshalCBOR/UnmarshalCBOR
// methods on this module's on-chain types. A consensus-critical actor would
// normally have these generated by cbor-gen (as the struct tags below are
// written for); lacking a code-generation step in this exercise, the
// generated body is replaced with go-ipld-cbor's reflective encoder, which
// reads the same struct tags and produces the same DAG-CBOR shape.
package cborutil

import (
	"io"
	"io/ioutil"

	cbor "github.com/ipfs/go-ipld-cbor"
)

// Marshal writes obj to w as DAG-CBOR.
func Marshal(w io.Writer, obj interface{}) error {
	data, err := cbor.DumpObject(obj)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Unmarshal reads a DAG-CBOR encoding of obj from r.
func Unmarshal(r io.Reader, obj interface{}) error {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	return cbor.DecodeInto(data, obj)
}
