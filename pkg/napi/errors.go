package napi

import (
	"errors"
	"fmt"

	"github.com/marmos91/nxfs/pkg/backend"
)

// ErrorCode represents the category of an API failure.
type ErrorCode int

const (
	// ErrNotFound indicates a missing file, path segment, entry or
	// attribute
	ErrNotFound ErrorCode = iota + 1

	// ErrMalformed indicates invalid input rejected before any mutation:
	// bad mount URLs, invalid names, numeric attribute arrays
	ErrMalformed

	// ErrBackend indicates the storage backend failed the call
	ErrBackend

	// ErrResource indicates an allocation failure
	ErrResource

	// ErrConcurrency indicates the API lock could not be taken or released
	ErrConcurrency

	// ErrClosed indicates a call on a closed handle
	ErrClosed

	// ErrUnsupported indicates an operation the backend cannot perform
	ErrUnsupported
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrMalformed:
		return "malformed input"
	case ErrBackend:
		return "backend failure"
	case ErrResource:
		return "resource exhausted"
	case ErrConcurrency:
		return "concurrency failure"
	case ErrClosed:
		return "handle closed"
	case ErrUnsupported:
		return "not supported"
	default:
		return "unknown"
	}
}

// Error is returned by every failing API call.
type Error struct {
	Code ErrorCode

	// Op is the API operation that failed, e.g. "opengroup"
	Op string

	// Path is the object or file path involved (if applicable)
	Path string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "napi: " + e.message()
}

func (e *Error) message() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so that
// errors.Is(err, &Error{Code: ErrNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Op == "" && t.Err == nil
}

var (
	// ErrEOD ends directory and attribute listings. It is returned
	// unwrapped and never reported.
	ErrEOD = backend.ErrEOD

	// ErrBadURL is wrapped by failures to parse a mount URL.
	ErrBadURL = errors.New("bad mount URL")
)

// CodeOf extracts the ErrorCode from err, or 0 if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// codeForBackend maps backend error codes onto API codes.
func codeForBackend(err error) ErrorCode {
	switch backend.CodeOf(err) {
	case backend.ErrNotFound:
		return ErrNotFound
	case backend.ErrInvalidArgument:
		return ErrMalformed
	case backend.ErrNotSupported:
		return ErrUnsupported
	}
	return ErrBackend
}

func newError(code ErrorCode, op, path, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}
