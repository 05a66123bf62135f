// Package status translates between host numeric status codes and Go errors.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Status is a numeric status code as understood by the host runtime.
type Status int32

// Host status codes. Only Success and BundleException carry meaning for the
// adapter; the rest are named so they print readably in logs.
const (
	Success              Status = 0
	ENOMEM               Status = 12
	StartError           Status = 70000
	BundleException      Status = 70001
	InvalidBundleContext Status = 70002
	IllegalArgument      Status = 70003
	InvalidSyntax        Status = 70004
	FrameworkShutdown    Status = 70005
	IllegalState         Status = 70006
	FrameworkException   Status = 70007
	FileIOException      Status = 70008
	ServiceException     Status = 70009
)

var names = map[Status]string{
	Success:              "success",
	ENOMEM:               "out of memory",
	StartError:           "start error",
	BundleException:      "bundle exception",
	InvalidBundleContext: "invalid bundle context",
	IllegalArgument:      "illegal argument",
	InvalidSyntax:        "invalid syntax",
	FrameworkShutdown:    "framework shutdown",
	IllegalState:         "illegal state",
	FrameworkException:   "framework exception",
	FileIOException:      "file io exception",
	ServiceException:     "service exception",
}

func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("status %d", int32(s))
}

// Err is shorthand for FromStatus(s).
func (s Status) Err() error {
	return FromStatus(s)
}

// Error is the adapter's error taxonomy. An Error with Code BundleException is
// the lifecycle fault; any other code is a host status passed through verbatim.
type Error struct {
	Cause  error
	Op     string
	Reason string
	Panic  string
	Stack  []byte
	Code   Status
}

// ErrBundleException matches any lifecycle fault with errors.Is.
var ErrBundleException = &Error{Code: BundleException}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())

	if e.Op != "" {
		b.WriteString(" at ")
		b.WriteString(e.Op)
	}

	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}

	if e.Panic != "" {
		b.WriteString(": panic: ")
		b.WriteString(e.Panic)
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a bare Error (no Op, Reason or Cause) with the
// same code, so errors.Is(err, ErrBundleException) matches every fault.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Reason != "" || t.Cause != nil {
		return e == t
	}
	return e.Code == t.Code
}

// IsFault reports whether the error is the lifecycle fault.
func (e *Error) IsFault() bool {
	return e.Code == BundleException
}

// Fault returns a lifecycle fault raised by op.
func Fault(op, reason string) *Error {
	return &Error{Code: BundleException, Op: op, Reason: reason}
}

// Faultf is Fault with a formatted reason.
func Faultf(op, format string, args ...any) *Error {
	return Fault(op, fmt.Sprintf(format, args...))
}

// Wrap returns a lifecycle fault raised by op caused by err.
func Wrap(op string, err error) *Error {
	return &Error{Code: BundleException, Op: op, Cause: err}
}

// Panicked returns a lifecycle fault that keeps the recovered panic value and
// stack of a worker.
func Panicked(op string, value any, stack []byte) *Error {
	return &Error{
		Code:   BundleException,
		Op:     op,
		Reason: "worker terminated abnormally",
		Panic:  fmt.Sprint(value),
		Stack:  stack,
	}
}

// FromStatus converts a host status into an error. Success maps to nil.
func FromStatus(s Status) error {
	if s == Success {
		return nil
	}
	return &Error{Code: s}
}

// ToStatus converts an error into a host status. Errors that are not an
// *Error (or do not wrap one) are reported as BundleException.
func ToStatus(err error) Status {
	if err == nil {
		return Success
	}
	var se *Error
	if errors.As(err, &se) && se.Code != Success {
		return se.Code
	}
	return BundleException
}

// IsFault reports whether err translates to the lifecycle fault.
func IsFault(err error) bool {
	return err != nil && ToStatus(err) == BundleException
}
