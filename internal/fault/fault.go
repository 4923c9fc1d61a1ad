// Package fault defines the kernel's error taxonomy. Every denied or failed
// operation surfaces as a typed error with a stable code, a human message,
// and a generated trace ID. Authorization denials are NOT faults: they are
// Decision values flowing through the normal pipeline; CodeAuthzDenied
// exists only for boundary surfaces that must map a denial into an error.
package fault

import (
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/trustplane/internal/tracer"
)

// Code is a stable machine-readable fault classification.
type Code string

const (
	CodeValidation  Code = "validation"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeAuthzDenied Code = "authz_denied"
	CodeTransient   Code = "transient"
	CodeInternal    Code = "internal"
)

// Fault carries a classified error through the kernel.
type Fault struct {
	Code    Code
	Message string
	TraceID string
	Err     error

	// RetryAfter is a provider-supplied hint for transient faults.
	// Zero means no hint.
	RetryAfter time.Duration
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s [%s]: %v", f.Code, f.Message, f.TraceID, f.Err)
	}
	return fmt.Sprintf("%s: %s [%s]", f.Code, f.Message, f.TraceID)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches faults by code so callers can test with errors.Is and a bare
// code sentinel built by Of.
func (f *Fault) Is(target error) bool {
	var other *Fault
	if errors.As(target, &other) {
		return other.Code == f.Code
	}
	return false
}

// Of returns a bare sentinel for use with errors.Is.
func Of(code Code) error {
	return &Fault{Code: code}
}

func newFault(code Code, msg string, cause error) *Fault {
	return &Fault{
		Code:    code,
		Message: msg,
		TraceID: tracer.NewTraceID(),
		Err:     cause,
	}
}

// Validation reports a malformed input. Fails fast, never retried.
func Validation(format string, args ...any) *Fault {
	return newFault(CodeValidation, fmt.Sprintf(format, args...), nil)
}

// NotFound reports a missing profile, probe, preset, or event.
func NotFound(format string, args ...any) *Fault {
	return newFault(CodeNotFound, fmt.Sprintf(format, args...), nil)
}

// Conflict reports a uniqueness or version collision.
func Conflict(format string, args ...any) *Fault {
	return newFault(CodeConflict, fmt.Sprintf(format, args...), nil)
}

// AuthzDenied wraps an authorization denial for boundary surfaces that
// require an error shape. Inside the kernel a denial stays a Decision.
func AuthzDenied(reason string) *Fault {
	return newFault(CodeAuthzDenied, reason, nil)
}

// Transient reports a retryable infrastructure failure.
func Transient(cause error, format string, args ...any) *Fault {
	return newFault(CodeTransient, fmt.Sprintf(format, args...), cause)
}

// Internal reports an unexpected failure.
func Internal(cause error, format string, args ...any) *Fault {
	return newFault(CodeInternal, fmt.Sprintf(format, args...), cause)
}

// CodeOf extracts the fault code from an error chain, CodeInternal if the
// error carries no classification.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the error is classified transient.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeTransient
}
