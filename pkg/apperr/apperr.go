package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind uint8

const (
	KindUnspecified Kind = iota
	KindNotFound
	KindConflict
	KindUnauthenticated
	KindForbidden
	KindInvalid
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindInvalid:
		return "invalid"
	case KindTransient:
		return "transient"
	}
	return "unspecified"
}

// Conflict reasons.
const (
	ReasonNoCopiesAvailable     = "no_copies_available"
	ReasonDuplicateRequest      = "duplicate_request"
	ReasonRenewalQuotaExhausted = "renewal_quota_exhausted"
	ReasonInvalidTransition     = "invalid_transition"
	ReasonStaleWrite            = "stale_write"
)

// Error carries a kind, an optional reason within that kind, the operation
// that failed and the underlying cause.
type Error struct {
	Kind   Kind
	Reason string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind whose reason is empty or equal,
// so errors.Is(err, ErrConflict) holds for every conflict reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrInvalid         = &Error{Kind: KindInvalid}
	ErrTransient       = &Error{Kind: KindTransient}

	ErrNoCopiesAvailable     = &Error{Kind: KindConflict, Reason: ReasonNoCopiesAvailable}
	ErrDuplicateRequest      = &Error{Kind: KindConflict, Reason: ReasonDuplicateRequest}
	ErrRenewalQuotaExhausted = &Error{Kind: KindConflict, Reason: ReasonRenewalQuotaExhausted}
	ErrInvalidTransition     = &Error{Kind: KindConflict, Reason: ReasonInvalidTransition}
	ErrStaleWrite            = &Error{Kind: KindConflict, Reason: ReasonStaleWrite}
)

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

func Conflict(op, reason string) error {
	return &Error{Kind: KindConflict, Reason: reason, Op: op}
}

func Invalid(op, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf(format, args...)}
}

func Unauthenticated(op string) error {
	return &Error{Kind: KindUnauthenticated, Op: op}
}

func Forbidden(op string) error {
	return &Error{Kind: KindForbidden, Op: op}
}

// Transient wraps a store failure. A nil cause returns nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnspecified
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// HTTPStatus maps err to a response code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalid:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
