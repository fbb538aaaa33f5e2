// Package apperr defines the error taxonomy shared by every component.
//
// Errors carry a Kind so callers can branch on category with errors.Is
// without string matching:
//
//	if errors.Is(err, apperr.ErrApprovalConflict) { ... }
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindBackendUnavailable
	KindValidation
	KindNotFound
	KindApprovalConflict
	KindApprovalExpired
	KindExecutionFailure
	KindPartialCollaborationFailure
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindApprovalConflict:
		return "approval_conflict"
	case KindApprovalExpired:
		return "approval_expired"
	case KindExecutionFailure:
		return "execution_failure"
	case KindPartialCollaborationFailure:
		return "partial_collaboration_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is comparisons. They match any *Error of the same Kind.
var (
	ErrPermissionDenied            = &Error{Kind: KindPermissionDenied}
	ErrBackendUnavailable          = &Error{Kind: KindBackendUnavailable}
	ErrValidation                  = &Error{Kind: KindValidation}
	ErrNotFound                    = &Error{Kind: KindNotFound}
	ErrApprovalConflict            = &Error{Kind: KindApprovalConflict}
	ErrApprovalExpired             = &Error{Kind: KindApprovalExpired}
	ErrExecutionFailure            = &Error{Kind: KindExecutionFailure}
	ErrPartialCollaborationFailure = &Error{Kind: KindPartialCollaborationFailure}
)

// Error wraps a cause with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string // e.g. "approval.Decide"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PermissionDenied creates a KindPermissionDenied error.
func PermissionDenied(op, format string, args ...any) *Error {
	return New(KindPermissionDenied, op, format, args...)
}

// Validation creates a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

// NotFound creates a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

// Conflict creates a KindApprovalConflict error.
func Conflict(op, format string, args ...any) *Error {
	return New(KindApprovalConflict, op, format, args...)
}

// Expired creates a KindApprovalExpired error.
func Expired(op, format string, args ...any) *Error {
	return New(KindApprovalExpired, op, format, args...)
}

// Unavailable wraps a backend failure.
func Unavailable(op string, err error) error {
	return Wrap(KindBackendUnavailable, op, err)
}

// HTTPStatus maps an error to the status code the API returns for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindApprovalConflict:
		return http.StatusConflict
	case KindApprovalExpired:
		return http.StatusGone
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindExecutionFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
