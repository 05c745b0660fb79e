package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/specforge/internal/generation"
)

// Stage names one ordered phase of a run.
type Stage string

const (
	StageTypes      Stage = "types"
	StageTools      Stage = "tools"
	StageEndpoints  Stage = "endpoints"
	StageMain       Stage = "main"
	StageReadme     Stage = "readme"
	StageMonolithic Stage = "monolithic"
)

// Status is the outcome of one generated item.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusPlaceholder marks an endpoint whose implementation was replaced
	// by a placeholder after its call failed.
	StatusPlaceholder Status = "placeholder"
	StatusSkipped     Status = "skipped"
)

// ItemResult is the tagged result of one generation call.
type ItemResult struct {
	Stage    Stage             `json:"stage"`
	Item     string            `json:"item,omitempty"`
	Status   Status            `json:"status"`
	Model    string            `json:"model,omitempty"`
	Attempts int               `json:"attempts"`
	Duration time.Duration     `json:"duration"`
	Filtered bool              `json:"filtered,omitempty"`
	Error    string            `json:"error,omitempty"`
	Usage    *generation.Usage `json:"usage,omitempty"`
}

// Report records every item of a run in execution order.
type Report struct {
	Strategy Strategy         `json:"strategy"`
	Language string           `json:"language"`
	Model    string           `json:"model,omitempty"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
	Items    []ItemResult     `json:"items"`
	Usage    generation.Usage `json:"usage"`
}

func (r *Report) add(item ItemResult) {
	r.Items = append(r.Items, item)
	r.Usage.Add(item.Usage)
	if item.Model != "" {
		r.Model = item.Model
	}
}

// Stage returns the items recorded for s.
func (r *Report) Stage(s Stage) []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Stage == s {
			out = append(out, it)
		}
	}
	return out
}

// EndpointCounts returns how many endpoint implementations succeeded out of
// how many were attempted.
func (r *Report) EndpointCounts() (succeeded, total int) {
	for _, it := range r.Stage(StageEndpoints) {
		total++
		if it.Status == StatusSucceeded {
			succeeded++
		}
	}
	return succeeded, total
}

// EndpointSummary renders EndpointCounts as "1/2 succeeded".
func (r *Report) EndpointSummary() string {
	ok, total := r.EndpointCounts()
	return fmt.Sprintf("%d/%d succeeded", ok, total)
}

// Failed lists items that did not succeed.
func (r *Report) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Status == StatusFailed || it.Status == StatusPlaceholder {
			out = append(out, it)
		}
	}
	return out
}

// ErrFilteredOutput is returned when a required stage produced nothing
// because the provider withheld the response.
var ErrFilteredOutput = errors.New("output withheld by content filter")

// StageError is a fatal failure of a required stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
