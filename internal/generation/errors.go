package generation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrGenerationFailed wraps every failure surfaced by Client.Generate.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrNoModelAvailable means the provider lists no usable model at all.
	ErrNoModelAvailable = errors.New("no model available")
	// ErrMissingCredential means no API key was configured.
	ErrMissingCredential = errors.New("missing API credential")
	// ErrModelUnavailable means the configured model is not offered by the provider.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrValidationFailed means the model list could not be fetched for a
	// reason another attempt will not fix, typically a rejected API key.
	ErrValidationFailed = errors.New("model validation failed")
)

// retryableStatus is the full set of statuses worth another attempt.
var retryableStatus = map[int]bool{429: true, 500: true, 503: true, 504: true}

// ProviderError is a classified failure of one provider call.
type ProviderError struct {
	Status    int // HTTP-like status, 0 when unknown
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error (status %d): %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("provider error: %v", e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// StatusError lets providers report the status of a failed call directly.
type StatusError interface {
	error
	StatusCode() int
}

var (
	statusToken = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)
	statusNames = map[string]int{
		"RESOURCE_EXHAUSTED": 429,
		"INTERNAL":           500,
		"UNAVAILABLE":        503,
		"DEADLINE_EXCEEDED":  504,
		"NOT_FOUND":          404,
		"INVALID_ARGUMENT":   400,
		"PERMISSION_DENIED":  403,
		"UNAUTHENTICATED":    401,
	}
	statusName = regexp.MustCompile(`\b(RESOURCE_EXHAUSTED|INTERNAL|UNAVAILABLE|DEADLINE_EXCEEDED|NOT_FOUND|INVALID_ARGUMENT|PERMISSION_DENIED|UNAUTHENTICATED)\b`)
)

// Classify maps err onto a ProviderError. A status reported by the provider
// wins; otherwise the first numeric status or gRPC-style status name found in
// the error text is used.
func Classify(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Cause: err}
	}

	status := 0
	var se StatusError
	if errors.As(err, &se) {
		status = se.StatusCode()
	}
	if status == 0 {
		msg := err.Error()
		if m := statusToken.FindString(msg); m != "" {
			status, _ = strconv.Atoi(m)
		} else if m := statusName.FindString(msg); m != "" {
			status = statusNames[m]
		}
	}
	return &ProviderError{Status: status, Retryable: retryableStatus[status], Cause: err}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	pe := Classify(err)
	return pe != nil && pe.Retryable
}

func isModelNotFound(err error) bool {
	if errors.Is(err, ErrModelUnavailable) {
		return true
	}
	pe := Classify(err)
	return pe != nil && pe.Status == 404
}
