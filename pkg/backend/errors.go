package backend

import "errors"

// Error represents a failure reported by a backend.
//
// Backends return Error for domain failures (missing entry, wrong type,
// read-only file) so the core can tell them apart from infrastructure
// errors, which are wrapped unchanged.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the object path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// Is matches another *Error with the same code, so that
// errors.Is(err, &Error{Code: ErrNotFound}) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// ErrorCode represents the category of a backend error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested group, dataset, attribute or file
	// doesn't exist. Also returned by GetGroupID at root and GetDataID when
	// no dataset is open.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates an entry with the same name exists
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: wrong slice type for the dataset, rank mismatch, bad slab
	ErrInvalidArgument

	// ErrReadOnly indicates a mutation on a file opened read-only
	ErrReadOnly

	// ErrNotSupported indicates an optional operation the backend doesn't
	// implement
	ErrNotSupported

	// ErrIO indicates a storage failure
	ErrIO

	// ErrState indicates the call is not valid in the current position,
	// e.g. PutData without an open dataset
	ErrState
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrReadOnly:
		return "read-only"
	case ErrNotSupported:
		return "not supported"
	case ErrIO:
		return "i/o error"
	case ErrState:
		return "invalid state"
	default:
		return "unknown"
	}
}

// ErrEOD is returned by GetNextEntry and GetNextAttr when the listing is
// exhausted.
var ErrEOD = errors.New("end of directory")

// NewError builds an *Error.
func NewError(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}

// CodeOf extracts the ErrorCode from err, or 0 if err is not a backend error.
func CodeOf(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return 0
}

// IsNotFound reports whether err is a backend ErrNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsNotSupported reports whether err is a backend ErrNotSupported.
func IsNotSupported(err error) bool {
	return CodeOf(err) == ErrNotSupported
}

// NotSupported returns the error optional operations report.
func NotSupported(op string) *Error {
	return &Error{Code: ErrNotSupported, Message: op + " not supported by this backend"}
}
