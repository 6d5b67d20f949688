// Package errs defines the error kinds the core surfaces to callers
// (spec.md §7): one tagged category per failure class, plus the stage
// that produced it so a caller can render "stage X: command Y failed".
package errs

import (
	"errors"
	"fmt"
)

// Kind is a distinct failure category, not a Go type per error site.
type Kind string

const (
	ValidationError  Kind = "ValidationError"
	NameConflict     Kind = "NameConflict"
	Unsupported      Kind = "Unsupported"
	BootstrapFailed  Kind = "BootstrapFailed"
	PasswordFailed   Kind = "PasswordFailed"
	NetworkFailed    Kind = "NetworkFailed"
	SshFailed        Kind = "SshFailed"
	WireGuardFailed  Kind = "WireGuardFailed"
	UnitFailed       Kind = "UnitFailed"
	StartFailed      Kind = "StartFailed"
	StopFailed       Kind = "StopFailed"
	DeleteFailed     Kind = "DeleteFailed"
	RuleConflict     Kind = "RuleConflict"
	Timeout          Kind = "Timeout"
	HostError        Kind = "HostError"
	NotFound         Kind = "NotFound"
)

// Error wraps an underlying error with its Kind and the stage (if any)
// that produced it. It implements Unwrap so callers can still use
// errors.Is/errors.As against the wrapped cause.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with no stage attribution.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf creates an Error from a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithStage attaches a stage name to an Error, returning a new Error.
func WithStage(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, otherwise returns HostError as a conservative default.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return HostError
}
