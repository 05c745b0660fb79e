package spec

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. Every one of them is fatal for the
// document being parsed: they describe malformed input, never a transient state.
var (
	// ErrInput indicates the input location itself is unusable (empty, blocked scheme, unreadable).
	ErrInput = errors.New("invalid input")

	// ErrUnsupportedFormat indicates the content is neither JSON nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrUnsupportedVersion indicates the declared OpenAPI major version is not 3.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrReferenceNotFound indicates a $ref pointer that does not address anything.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrUnsupportedReference indicates a $ref into another document.
	ErrUnsupportedReference = errors.New("unsupported reference")
)

// ErrorKind categorizes spec errors for clearer handling and messaging.
type ErrorKind string

const (
	InputError           ErrorKind = "InputError"
	UnsupportedFormat    ErrorKind = "UnsupportedFormat"
	UnsupportedVersion   ErrorKind = "UnsupportedVersion"
	ReferenceNotFound    ErrorKind = "ReferenceNotFound"
	UnsupportedReference ErrorKind = "UnsupportedReference"
)

// Error is a structured error with an optional location and JSON pointer.
type Error struct {
	Kind     ErrorKind
	Message  string
	Location string // file path or URL
	Pointer  string // e.g. "#/components/schemas/Pet"
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Pointer != "" {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Pointer)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is maps the error kind onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case InputError:
		return target == ErrInput
	case UnsupportedFormat:
		return target == ErrUnsupportedFormat
	case UnsupportedVersion:
		return target == ErrUnsupportedVersion
	case ReferenceNotFound:
		return target == ErrReferenceNotFound
	case UnsupportedReference:
		return target == ErrUnsupportedReference
	}
	return false
}

func newError(kind ErrorKind, pointer, format string, args ...any) *Error {
	return &Error{Kind: kind, Pointer: pointer, Message: fmt.Sprintf(format, args...)}
}
