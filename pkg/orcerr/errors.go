// Package orcerr defines the error taxonomy shared by every component of the
// Agent Orchestration Core. The taxonomy is a closed set of "kinds", not a
// type hierarchy: callers type-switch or use errors.As on the concrete
// structs below, and Retriable() decides whether the orchestrator's retry
// policy (see package orchestrator) is allowed to re-attempt the operation.
package orcerr

import (
	"errors"
	"fmt"
)

// Kind identifies which error taxonomy entry an error belongs to.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuth             Kind = "auth"
	KindTransient        Kind = "transient"
	KindConflict         Kind = "conflict"
	KindToolUnavailable  Kind = "tool_unavailable"
	KindCancelled        Kind = "cancelled"
	KindInternalInvariant Kind = "internal_invariant"
)

// Sentinel base errors, wrapped by CoreError so errors.Is keeps working
// across the typed struct.
var (
	ErrValidation        = errors.New("validation error")
	ErrAuth              = errors.New("auth error")
	ErrTransient         = errors.New("transient error")
	ErrConflict          = errors.New("conflict error")
	ErrToolUnavailable   = errors.New("tool unavailable")
	ErrCancelled         = errors.New("cancelled")
	ErrInternalInvariant = errors.New("internal invariant violated")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuth:
		return ErrAuth
	case KindTransient:
		return ErrTransient
	case KindConflict:
		return ErrConflict
	case KindToolUnavailable:
		return ErrToolUnavailable
	case KindCancelled:
		return ErrCancelled
	case KindInternalInvariant:
		return ErrInternalInvariant
	default:
		return errors.New(string(k))
	}
}

// CoreError is the structured error surfaced at component boundaries (§7):
// {kind, message, component, retriable}.
type CoreError struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *CoreError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelFor(e.Kind)
}

// Retriable reports whether the orchestrator's retry policy (§4.5, §7) may
// re-attempt the operation that produced this error. Only TransientError is
// retriable; ValidationError, AuthError, and privileged-tool failures never are.
func (e *CoreError) Retriable() bool {
	return e.Kind == KindTransient
}

// New constructs a CoreError of the given kind.
func New(kind Kind, component, message string) *CoreError {
	return &CoreError{Kind: kind, Component: component, Message: message}
}

// Wrap constructs a CoreError of the given kind wrapping an underlying error.
func Wrap(kind Kind, component, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Component: component, Message: message, Err: err}
}

func Validation(component, format string, args ...any) *CoreError {
	return New(KindValidation, component, fmt.Sprintf(format, args...))
}

func Auth(component, format string, args ...any) *CoreError {
	return New(KindAuth, component, fmt.Sprintf(format, args...))
}

func Transient(component string, err error) *CoreError {
	return Wrap(KindTransient, component, err.Error(), err)
}

func Conflict(component, format string, args ...any) *CoreError {
	return New(KindConflict, component, fmt.Sprintf(format, args...))
}

func ToolUnavailable(component, toolName string) *CoreError {
	return New(KindToolUnavailable, component, fmt.Sprintf("tool %q is unavailable", toolName))
}

func Cancelled(component, format string, args ...any) *CoreError {
	return New(KindCancelled, component, fmt.Sprintf(format, args...))
}

func InternalInvariant(component, format string, args ...any) *CoreError {
	return New(KindInternalInvariant, component, fmt.Sprintf(format, args...))
}

// Is<Kind> helpers, mirroring the teacher's IsRateLimitError pattern.

func IsValidation(err error) bool        { return hasKind(err, KindValidation) }
func IsAuth(err error) bool              { return hasKind(err, KindAuth) }
func IsTransient(err error) bool         { return hasKind(err, KindTransient) }
func IsConflict(err error) bool          { return hasKind(err, KindConflict) }
func IsToolUnavailable(err error) bool   { return hasKind(err, KindToolUnavailable) }
func IsCancelled(err error) bool         { return hasKind(err, KindCancelled) }
func IsInternalInvariant(err error) bool { return hasKind(err, KindInternalInvariant) }

func hasKind(err error, k Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == k
	}
	return false
}

// Retriable reports whether err is a CoreError whose kind the retry policy
// in §4.5/§7 permits retrying. Non-CoreError errors are treated as non-retriable.
func Retriable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Retriable()
	}
	return false
}
