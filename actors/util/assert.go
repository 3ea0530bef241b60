package util

// Assert panics if cond is false. Used for invariants that a correct caller
// and a correct prior transaction can never violate; tripping one indicates
// a bug in this actor, not bad input, so it is not routed through
// exitcode/Abortf.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertNoError panics if err is non-nil. Used at call sites where the
// runtime's own contract (e.g. address resolution always succeeding for an
// ID address) makes an error impossible absent a bug in this actor.
func AssertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
