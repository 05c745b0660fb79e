package cli

import (
	"errors"
	"fmt"

	"github.com/mark3labs/specforge/internal/pipeline"
	"github.com/mark3labs/specforge/internal/spec"
)

var ErrUsage = errors.New("cli usage error")

type usageError struct {
	msg string
}

func newUsageError(msg string) error {
	return usageError{msg: msg}
}

func (e usageError) Error() string {
	return e.msg
}

func (e usageError) Is(target error) bool {
	return target == ErrUsage
}

// Exit codes by failure category.
const (
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInput       = 3
	ExitCredentials = 4
	ExitTransient   = 5
)

// ExitCode maps err onto the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch pipeline.Categorize(err) {
	case pipeline.CategoryInput:
		return ExitInput
	case pipeline.CategoryCredentials:
		return ExitCredentials
	case pipeline.CategoryTransient:
		return ExitTransient
	}
	if errors.Is(err, ErrUsage) {
		return ExitUsage
	}
	return ExitFailure
}

// Describe renders err for the terminal, with a hint telling input problems
// apart from credential problems and from transient ones.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if !errors.Is(err, ErrUsage) {
		msg = "error: " + msg
	}
	if c := pipeline.Categorize(err); c != pipeline.CategoryUnknown {
		msg = fmt.Sprintf("%s\nHint (%s): %s", msg, c, c.Hint())
	}
	return msg
}

// specUsageError turns a structured document error into a usage error that
// names where the problem is.
func specUsageError(err error) error {
	var se *spec.Error
	if !errors.As(err, &se) {
		return err
	}
	msg := fmt.Sprintf("spec: %s", se.Message)
	if se.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, se.Cause)
	}
	if se.Location != "" {
		msg = fmt.Sprintf("%s\nLocation: %s", msg, se.Location)
	}
	if se.Pointer != "" {
		msg = fmt.Sprintf("%s\nPointer: %s", msg, se.Pointer)
	}
	return inputError{usageError: usageError{msg: msg}, cause: err}
}

// inputError is a usage error that still categorizes as an input problem.
type inputError struct {
	usageError
	cause error
}

func (e inputError) Unwrap() error { return e.cause }
