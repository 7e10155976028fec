// Package errs classifies domain errors into the small set of kinds the
// HTTP surface understands.
package errs

import (
	"errors"
)

// Kind is a closed error category.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid-argument"
	KindUnauthenticated    Kind = "unauthenticated"
	KindPermissionDenied   Kind = "permission-denied"
	KindNotFound           Kind = "not-found"
	KindAlreadyExists      Kind = "already-exists"
	KindFailedPrecondition Kind = "failed-precondition"
	KindResourceExhausted  Kind = "too-many-requests"
	KindInternal           Kind = "internal"
)

// Kind sentinels usable with errors.Is.
var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument, Code: string(KindInvalidArgument)}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Code: string(KindUnauthenticated)}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied, Code: string(KindPermissionDenied)}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: string(KindNotFound)}
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists, Code: string(KindAlreadyExists)}
	ErrFailedPrecondition = &Error{Kind: KindFailedPrecondition, Code: string(KindFailedPrecondition)}
	ErrResourceExhausted  = &Error{Kind: KindResourceExhausted, Code: string(KindResourceExhausted)}
	ErrInternal           = &Error{Kind: KindInternal, Code: string(KindInternal)}
)

// Error is a coded domain error carrying its kind.
type Error struct {
	Kind Kind
	Code string
}

// New declares a domain sentinel of the given kind.
func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string { return e.Code }

// Is matches another *Error with the same code, or a bare kind sentinel
// with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == string(t.Kind) {
		return e.Kind == t.Kind
	}
	return e.Code == t.Code
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Code returns the stable machine code of err, or "internal".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return string(KindInternal)
}
