package generation

import "context"

// Provider is one external text-generation backend.
type Provider interface {
	// Generate performs a single call. It does not retry.
	Generate(ctx context.Context, req Request) (*Response, error)
	// ListModels returns the identifiers of models that can generate text.
	ListModels(ctx context.Context) ([]string, error)
}

// Request is one generation task as seen by a provider.
type Request struct {
	Model   string
	Prompt  string
	Options GenerateOptions
}

// GenerateOptions tunes a single call. Nil and zero fields fall back to the
// client's configured defaults.
type GenerateOptions struct {
	Temperature   *float32
	MaxOutputSize int32
	TopP          *float32
	TopK          *float32
}

// Response is the provider's answer to one Request.
type Response struct {
	Text string
	// Filtered is set when the provider withheld content for policy reasons.
	Filtered     bool
	FilterReason string
	// Usage is nil when the provider reports no token counts.
	Usage *Usage
}

// Usage holds token counters for one call or an aggregate of calls.
type Usage struct {
	PromptTokens   int `json:"promptTokens"`
	ResponseTokens int `json:"responseTokens"`
	TotalTokens    int `json:"totalTokens"`
}

// Add accumulates o into u. A nil o is a no-op.
func (u *Usage) Add(o *Usage) {
	if o == nil {
		return
	}
	u.PromptTokens += o.PromptTokens
	u.ResponseTokens += o.ResponseTokens
	u.TotalTokens += o.TotalTokens
}
