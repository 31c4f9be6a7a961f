// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"fmt"
	"runtime"
)

// AssertionFailure is the panic value raised by a failed invariant. Internal
// consistency violations are not recoverable errors: a caller that sees one
// has found a bug.
type AssertionFailure struct {
	err error
}

func (a *AssertionFailure) Error() string { return a.err.Error() }

func (a *AssertionFailure) Unwrap() error { return a.err }

func assertionFailed(message string) {
	where := "unknown"
	if pc, file, line, ok := runtime.Caller(2); ok {
		where = fmt.Sprintf("%s:%d", file, line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			where = fmt.Sprintf("%s (%s)", where, fn.Name())
		}
	}
	panic(&AssertionFailure{
		err: New(ErrAssertionFailure, fmt.Sprintf("assertion failed in %s: %s", where, message)),
	})
}

// AssertPrecondition panics when cond is false.
func AssertPrecondition(cond bool, message string) {
	if !cond {
		assertionFailed(message)
	}
}

// AssertInvariant panics when cond is false.
func AssertInvariant(cond bool, message string) {
	if !cond {
		assertionFailed(message)
	}
}

// Unreachable always panics.
func Unreachable(message string) {
	assertionFailed(message)
}

// IsAssertionFailure reports whether v, typically a recovered panic value,
// is an assertion failure.
func IsAssertionFailure(v interface{}) bool {
	_, ok := v.(*AssertionFailure)
	return ok
}
