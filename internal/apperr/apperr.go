// Package apperr defines the error taxonomy shared by every service.
//
// Services return *Error values; the command layer turns them into the
// {success, error, errorCode} envelope with KindOf. Anything that is not an
// *Error is reported as INTERNAL.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindAuthentication     Kind = "AUTHENTICATION"
	KindPermission         Kind = "PERMISSION"
	KindTimeWindowExceeded Kind = "TIME_WINDOW_EXCEEDED"
	KindInvalidState       Kind = "INVALID_STATE"
	KindNotFound           Kind = "NOT_FOUND"
	KindTransient          Kind = "TRANSIENT"
	KindInternal           Kind = "INTERNAL"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can write
// errors.Is(err, apperr.ErrPermission).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is. They carry no message, so they match any error of
// their kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrPermission         = &Error{Kind: KindPermission}
	ErrTimeWindowExceeded = &Error{Kind: KindTimeWindowExceeded}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrTransient          = &Error{Kind: KindTransient}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err returns nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error     { return New(KindValidation, msg) }
func Authentication(msg string) *Error { return New(KindAuthentication, msg) }
func Permission(msg string) *Error     { return New(KindPermission, msg) }
func TimeWindow(msg string) *Error     { return New(KindTimeWindowExceeded, msg) }
func InvalidState(msg string) *Error   { return New(KindInvalidState, msg) }
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }

// Transient marks a store failure as safe to retry.
func Transient(msg string, err error) error { return Wrap(KindTransient, msg, err) }

// KindOf returns the classification of err. Context cancellation and
// deadline errors are transient; unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

// MessageOf returns a client-safe description of err. Internal errors are
// not described.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Kind)
	}
	if KindOf(err) == KindTransient {
		return "temporarily unavailable, retry"
	}
	return "internal error"
}
