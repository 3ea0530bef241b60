package exitcode

import "fmt"

// ExitCode identifies the result of a message's execution; the VM aborts
// and discards all state mutation for any non-Ok code, per §7.
type ExitCode int64

const (
	Ok ExitCode = 0

	// USR_ILLEGAL_ARGUMENT: bad params.
	ErrIllegalArgument ExitCode = 16
	// USR_NOT_FOUND: named sector/partition/deadline not present.
	ErrNotFound ExitCode = 17
	// USR_FORBIDDEN: caller auth failure or policy gate.
	ErrForbidden ExitCode = 18
	// USR_INSUFFICIENT_FUNDS: balance check failed.
	ErrInsufficientFunds ExitCode = 19
	// USR_ILLEGAL_STATE: invariant violated, should not occur from correct input.
	ErrIllegalState ExitCode = 20
	// USR_SERIALIZATION.
	ErrSerialization ExitCode = 21
	// USR_UNHANDLED_MESSAGE: unknown method number.
	ErrUnhandledMessage ExitCode = 22

	// ErrBalanceInvariantsBroken is raised when the post-send balance check
	// in §4.5/§8 fails; this is always a fatal bug, never caller error.
	ErrBalanceInvariantsBroken ExitCode = 1000
)

func (e ExitCode) IsSuccess() bool {
	return e == Ok
}

func (e ExitCode) IsError() bool {
	return !e.IsSuccess()
}

func (e ExitCode) String() string {
	switch e {
	case Ok:
		return "Ok"
	case ErrIllegalArgument:
		return "ErrIllegalArgument"
	case ErrNotFound:
		return "ErrNotFound"
	case ErrForbidden:
		return "ErrForbidden"
	case ErrInsufficientFunds:
		return "ErrInsufficientFunds"
	case ErrIllegalState:
		return "ErrIllegalState"
	case ErrSerialization:
		return "ErrSerialization"
	case ErrUnhandledMessage:
		return "ErrUnhandledMessage"
	case ErrBalanceInvariantsBroken:
		return "ErrBalanceInvariantsBroken"
	default:
		return fmt.Sprintf("ExitCode(%d)", int64(e))
	}
}

// Unwrap extracts an ExitCode from a wrapped error, falling back to the
// supplied default if the error carries none. Mirrors the teacher's use of
// exitcode.Unwrap(err, exitcode.ErrIllegalState) at transaction boundaries.
func Unwrap(err error, defaultExitCode ExitCode) ExitCode {
	var ec interface{ ExitCode() ExitCode }
	if asInterface(err, &ec) {
		return ec.ExitCode()
	}
	return defaultExitCode
}

func asInterface(err error, target *interface{ ExitCode() ExitCode }) bool {
	type exitCoder interface {
		ExitCode() ExitCode
	}
	if ec, ok := err.(exitCoder); ok {
		*target = ec
		return true
	}
	return false
}
