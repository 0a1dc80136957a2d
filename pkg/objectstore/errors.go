package objectstore

import "errors"

// ErrorCode categorizes failures returned by an object-store backend.
//
// These are infrastructure-level categories, not protocol-level ones — the
// grace engine built on top of this package translates a subset of them
// into its own taxonomy (see pkg/grace/errors.go).
type ErrorCode int

const (
	// ErrNotFound indicates the named object does not exist.
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates an exclusive create targeted an object
	// that already exists.
	ErrAlreadyExists

	// ErrVersionMismatch indicates a write's assert_version precondition
	// did not match the object's current version. Always retryable.
	ErrVersionMismatch

	// ErrCorruption indicates stored object data could not be decoded
	// (s3store: the omap sidecar is not valid JSON). Payload size and
	// omap cap checks are done by pkg/grace, not by the backends.
	ErrCorruption

	// ErrInvalidArgument indicates a malformed argument to the call
	// (e.g. a key that can't be round-tripped through the backend).
	ErrInvalidArgument

	// ErrTransport indicates a backend-level I/O or network failure that
	// is not classifiable as any of the above.
	ErrTransport
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrVersionMismatch:
		return "version mismatch"
	case ErrCorruption:
		return "corruption"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrTransport:
		return "transport error"
	default:
		return "unknown error"
	}
}

// Error is the error type every backend returns. Callers distinguish
// kinds with errors.As and (*Error).Code, never by string-matching
// messages.
type Error struct {
	Code    ErrorCode
	Object  string
	Message string
	Err     error // underlying backend error, if any
}

func (e *Error) Error() string {
	if e.Object != "" {
		return e.Code.String() + " (" + e.Object + "): " + e.Message
	}
	return e.Code.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a backend Error.
func NewError(code ErrorCode, object, message string, cause error) *Error {
	return &Error{Code: code, Object: object, Message: message, Err: cause}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
