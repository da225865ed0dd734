// Package deployerr defines the error taxonomy shared across the deployment
// engine. Errors are classified so the orchestrator can decide what is fatal
// to an attempt (security violations, lock contention) versus what is
// collected per component.
package deployerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindSecurity       Kind = "security_violation"
	KindLockContention Kind = "lock_contention"
	KindLockOwnership  Kind = "lock_ownership"
	KindIO             Kind = "io"
	KindState          Kind = "state_corruption"
	KindRecovery       Kind = "recovery_failure"
)

// Error is a classified engine error.
type Error struct {
	Kind     Kind
	Resource string // lock scope, file path, or component the error concerns
	Msg      string
	Wrapped  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Resource)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches on Kind so callers can test against taxonomy sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Msg == "" || other.Msg == e.Msg)
	}
	return false
}

// Sentinels for errors.Is checks. Msg is empty so any error of the kind matches.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrSecurity       = &Error{Kind: KindSecurity}
	ErrLockContention = &Error{Kind: KindLockContention}
	ErrLockOwnership  = &Error{Kind: KindLockOwnership}
	ErrIO             = &Error{Kind: KindIO}
	ErrState          = &Error{Kind: KindState}
	ErrRecovery       = &Error{Kind: KindRecovery}
)

// Validation reports a bad-options or bad-shape error.
func Validation(msg string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(msg, args...)}
}

// Security reports a blocking security finding.
func Security(resource, msg string) *Error {
	return &Error{Kind: KindSecurity, Resource: resource, Msg: msg}
}

// LockContention reports a resource already locked by another deployment.
func LockContention(resource string) *Error {
	return &Error{Kind: KindLockContention, Resource: resource, Msg: "resource is locked by another deployment"}
}

// LockOwnership reports a release attempt by a non-owner.
func LockOwnership(resource string) *Error {
	return &Error{Kind: KindLockOwnership, Resource: resource, Msg: "lock is owned by a different deployment"}
}

// IO wraps a filesystem failure.
func IO(resource string, err error) *Error {
	return &Error{Kind: KindIO, Resource: resource, Msg: "filesystem operation failed", Wrapped: err}
}

// State wraps an unreadable or invalid persisted state document.
func State(resource string, err error) *Error {
	return &Error{Kind: KindState, Resource: resource, Msg: "deployment state is corrupt", Wrapped: err}
}

// Recovery wraps a failed restore or auto-recovery.
func Recovery(resource string, err error) *Error {
	return &Error{Kind: KindRecovery, Resource: resource, Msg: "recovery failed", Wrapped: err}
}
