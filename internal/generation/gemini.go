package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a provider authenticated with apiKey.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set %s", ErrMissingCredential, EnvAPIKey)
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: c}, nil
}

// Generate implements Provider.
func (g *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     req.Options.Temperature,
		TopP:            req.Options.TopP,
		TopK:            req.Options.TopK,
		MaxOutputTokens: req.Options.MaxOutputSize,
	}
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, wrapGeminiError(err)
	}

	out := &Response{}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &Usage{
			PromptTokens:   int(u.PromptTokenCount),
			ResponseTokens: int(u.CandidatesTokenCount),
			TotalTokens:    int(u.TotalTokenCount),
		}
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" && pf.BlockReason != genai.BlockedReasonUnspecified {
		out.Filtered = true
		out.FilterReason = string(pf.BlockReason)
		return out, nil
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}

	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist,
		genai.FinishReasonSPII, genai.FinishReasonRecitation:
		out.Filtered = true
		out.FilterReason = string(cand.FinishReason)
	}
	if cand.Content != nil {
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
		out.Text = b.String()
	}
	return out, nil
}

// ListModels implements Provider. Only models supporting generateContent are
// returned, without the "models/" prefix.
func (g *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, wrapGeminiError(err)
		}
		if len(m.SupportedActions) > 0 && !contains(m.SupportedActions, "generateContent") {
			continue
		}
		names = append(names, trimModelPrefix(m.Name))
	}
	return names, nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Status: apiErr.Code, Retryable: retryableStatus[apiErr.Code], Cause: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &ProviderError{Status: apiErrPtr.Code, Retryable: retryableStatus[apiErrPtr.Code], Cause: err}
	}
	return Classify(err)
}
