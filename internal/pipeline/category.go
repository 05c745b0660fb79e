package pipeline

import (
	"context"
	"errors"

	"github.com/mark3labs/specforge/internal/generation"
	"github.com/mark3labs/specforge/internal/spec"
)

// Category tells the caller what to do about a failed run.
type Category string

const (
	// CategoryInput: fix the API description.
	CategoryInput Category = "input"
	// CategoryCredentials: fix the API key or model configuration.
	CategoryCredentials Category = "credentials"
	// CategoryTransient: try again later.
	CategoryTransient Category = "transient"
	CategoryUnknown   Category = "unknown"
)

// Hint is a one-line suggestion for c.
func (c Category) Hint() string {
	switch c {
	case CategoryInput:
		return "fix the API description and retry"
	case CategoryCredentials:
		return "check the API key and model configuration"
	case CategoryTransient:
		return "the provider is busy or unreachable; try again later"
	}
	return "see the error for details"
}

// Categorize maps an error from parsing or from a run onto a Category.
func Categorize(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, spec.ErrInput),
		errors.Is(err, spec.ErrUnsupportedFormat),
		errors.Is(err, spec.ErrUnsupportedVersion),
		errors.Is(err, spec.ErrReferenceNotFound),
		errors.Is(err, spec.ErrUnsupportedReference):
		return CategoryInput
	case errors.Is(err, generation.ErrMissingCredential),
		errors.Is(err, generation.ErrNoModelAvailable),
		errors.Is(err, generation.ErrModelUnavailable),
		errors.Is(err, generation.ErrValidationFailed):
		return CategoryCredentials
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	}

	var pe *generation.ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.Retryable:
			return CategoryTransient
		case pe.Status == 401 || pe.Status == 403 || pe.Status == 404:
			return CategoryCredentials
		case pe.Status == 400 || pe.Status == 413:
			return CategoryInput
		}
	}
	return CategoryUnknown
}
