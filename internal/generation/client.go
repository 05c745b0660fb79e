// Package generation wraps a single external text-generation call with model
// validation, automatic model fallback and retry with linear backoff.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/mark3labs/specforge/internal/logging"
)

// ModelState tracks whether the configured model is known to be usable.
type ModelState int

const (
	Unvalidated ModelState = iota
	Validating
	Valid
	Invalid
)

func (s ModelState) String() string {
	switch s {
	case Unvalidated:
		return "unvalidated"
	case Validating:
		return "validating"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("ModelState(%d)", int(s))
}

// Validation is the cached outcome of model validation.
type Validation struct {
	Valid bool
	// Model is the model the client will use from now on.
	Model string
	// Requested is the model that was configured before validation ran.
	Requested    string
	AutoSelected bool
	Available    []string
}

// Result describes one Generate call, successful or not.
type Result struct {
	Success  bool
	Text     string
	Model    string
	Attempts int
	Duration time.Duration
	// Usage is nil when the provider reported no token counts.
	Usage        *Usage
	Filtered     bool
	FilterReason string
}

// Client is a resilient wrapper around one Provider. A Client is safe for
// concurrent use; its model validation happens at most once unless
// Revalidate is called.
type Client struct {
	provider Provider
	cfg      Config
	settings Settings
	log      logging.Logger

	mu         sync.Mutex
	state      ModelState
	model      string
	validation Validation
	invalidErr error
}

// New builds a client backed by the Gemini API.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := NewGeminiProvider(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return NewWithProvider(p, cfg, opts...)
}

// NewWithProvider builds a client around an arbitrary provider.
func NewWithProvider(p Provider, cfg Config, opts ...Option) (*Client, error) {
	if p == nil {
		return nil, errors.New("generation: provider is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	model := trimModelPrefix(cfg.Model)
	if model == "" {
		model = s.DefaultModel
	}
	return &Client{
		provider: p,
		cfg:      cfg,
		settings: s,
		log:      s.Logger.With("component", "generation"),
		model:    model,
	}, nil
}

// ModelName returns the model currently used for generation.
func (c *Client) ModelName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// State returns the current model validation state.
func (c *Client) State() ModelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ValidateModel checks the configured model against the provider's model
// list, auto-selecting a replacement when it is missing. Valid and Invalid
// outcomes are cached; a failed model listing is not, so a later call retries.
func (c *Client) ValidateModel(ctx context.Context) (Validation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Valid:
		return c.validation, nil
	case Invalid:
		return c.validation, c.invalidErr
	}

	c.state = Validating
	models, err := c.provider.ListModels(ctx)
	if err != nil {
		c.state = Unvalidated
		if IsRetryable(err) || ctx.Err() != nil {
			return Validation{}, fmt.Errorf("list models: %w", err)
		}
		return Validation{}, fmt.Errorf("%w: list models: %w", ErrValidationFailed, err)
	}

	v := Validation{Requested: c.model, Available: models}
	if len(models) == 0 {
		c.state = Invalid
		c.validation = v
		c.invalidErr = fmt.Errorf("%w: provider lists no models", ErrNoModelAvailable)
		c.log.Error("model validation failed", "model", c.model, "error", c.invalidErr)
		return v, c.invalidErr
	}

	if contains(models, c.model) {
		v.Model = c.model
	} else {
		v.Model = c.selectModel(models)
		v.AutoSelected = true
		c.log.Warn("configured model unavailable, auto-selected replacement", "requested", c.model, "selected", v.Model)
		c.model = v.Model
	}
	v.Valid = true
	c.state = Valid
	c.validation = v
	c.log.Debug("model validated", "model", v.Model, "available", len(models))
	return v, nil
}

// Revalidate discards the cached validation and runs it again.
func (c *Client) Revalidate(ctx context.Context) (Validation, error) {
	c.mu.Lock()
	c.state = Unvalidated
	c.invalidErr = nil
	c.mu.Unlock()
	return c.ValidateModel(ctx)
}

// selectModel prefers the default model, then the first name containing the
// preferred pattern, then the first listed model.
func (c *Client) selectModel(models []string) string {
	if contains(models, c.settings.DefaultModel) {
		return c.settings.DefaultModel
	}
	if p := strings.ToLower(c.settings.PreferredPattern); p != "" {
		for _, m := range models {
			if strings.Contains(strings.ToLower(m), p) {
				return m
			}
		}
	}
	return models[0]
}

// Generate runs prompt through the provider. Retryable failures (429, 500,
// 503, 504) are retried up to MaxAttempts with a delay of attempt*BaseDelay.
// A model that disappears mid-run triggers one revalidation and rerun.
// Filtered responses are returned as successful results with Filtered set.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Result, error) {
	start := time.Now()
	res := &Result{}
	defer func() { res.Duration = time.Since(start) }()

	if _, err := c.ValidateModel(ctx); err != nil {
		res.Model = c.ModelName()
		return res, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	err := c.attempt(ctx, prompt, opts, res)
	if err != nil && isModelNotFound(err) {
		failed := res.Model
		c.log.Warn("model not found during generation, revalidating", "model", failed, "error", err)
		if _, verr := c.Revalidate(ctx); verr != nil {
			return res, fmt.Errorf("%w: %w", ErrGenerationFailed, verr)
		}
		if c.ModelName() != failed {
			err = c.attempt(ctx, prompt, opts, res)
		}
	}
	if err != nil {
		return res, fmt.Errorf("%w after %d attempt(s): %w", ErrGenerationFailed, res.Attempts, err)
	}
	return res, nil
}

func (c *Client) attempt(ctx context.Context, prompt string, opts GenerateOptions, res *Result) error {
	req := Request{Model: c.ModelName(), Prompt: prompt, Options: c.withDefaults(opts)}
	res.Model = req.Model
	base := c.settings.BaseDelay

	var (
		resp    *Response
		lastErr error
	)
	doErr := retry.Do(
		func() error {
			res.Attempts++
			r, err := c.provider.Generate(ctx, req)
			if err != nil {
				lastErr = Classify(err)
				return lastErr
			}
			resp, lastErr = r, nil
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.settings.MaxAttempts),
		retry.DelayType(linearBackoff(base)),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("generation attempt failed", "model", req.Model, "attempt", n+1, "retryable", IsRetryable(err), "error", err)
		}),
	)
	if resp == nil {
		if lastErr == nil {
			lastErr = doErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil && lastErr == nil {
			lastErr = ctxErr
		}
		return lastErr
	}

	res.Success = true
	res.Text = resp.Text
	res.Usage = resp.Usage
	res.Filtered = resp.Filtered
	res.FilterReason = resp.FilterReason
	if resp.Filtered {
		c.log.Warn("response withheld by content filter", "model", req.Model, "reason", resp.FilterReason)
	}
	c.log.Debug("generation succeeded", "model", req.Model, "attempts", res.Attempts)
	return nil
}

// linearBackoff waits attempt*base after failed attempt n, where retry-go
// counts n from 0 and the first call is attempt 1.
func linearBackoff(base time.Duration) retry.DelayTypeFunc {
	return func(n uint, _ error, _ *retry.Config) time.Duration {
		return time.Duration(n+1) * base
	}
}

func (c *Client) withDefaults(o GenerateOptions) GenerateOptions {
	if o.Temperature == nil {
		t := c.cfg.Temperature
		o.Temperature = &t
	}
	if o.MaxOutputSize <= 0 {
		o.MaxOutputSize = c.cfg.MaxOutputTokens
	}
	return o
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func trimModelPrefix(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "models/")
}
