package builtin

import (
	exitcode "github.com/storageminer/specs-actors/actors/runtime/exitcode"
)

// AbortingRuntime is the slice of Runtime that the RequireNoErr/RequireSuccess
// helpers need; kept narrow to avoid a dependency cycle with actors/runtime.
type AbortingRuntime interface {
	Abortf(code exitcode.ExitCode, msg string, args ...interface{})
}

// RequireNoErr aborts the current message with the given exit code if err is
// non-nil, formatting msg/args as the abort reason. This is the teacher's
// universal "unwrap or abort" idiom, used at nearly every fallible call site
// inside a transaction.
func RequireNoErr(rt AbortingRuntime, err error, defaultExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	if err == nil {
		return
	}
	code := exitcode.Unwrap(err, defaultExitCode)
	rt.Abortf(code, msg+": %s", append(append([]interface{}{}, args...), err)...)
}

// RequireSuccess aborts if the given exit code from an inter-actor send
// indicates failure.
func RequireSuccess(rt AbortingRuntime, code exitcode.ExitCode, msg string, args ...interface{}) {
	if code.IsSuccess() {
		return
	}
	rt.Abortf(code, msg, args...)
}
