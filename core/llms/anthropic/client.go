package anthropic

import (
	"context"

	"github.com/kajovic/liora-core/core/llms"
)

// Client binds an API key and model so callers can hold a single
// value instead of threading credentials through every call.
type Client struct {
	apiKey string
	model  string
}

const defaultModel = "claude-sonnet-4-5"

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{apiKey: apiKey, model: model}
}

// Model returns the model the client is bound to.
func (c *Client) Model() string {
	return c.model
}

// PromptWithStream prepares a streaming request. System prompt, history
// and tools are supplied through opts.
func (c *Client) PromptWithStream(ctx context.Context, prompt *string, opts ...llms.PromptOption) llms.Stream {
	return PromptWithStream(ctx, c.apiKey, c.model, prompt, "", nil, opts...)
}

// Prompt sends a batch request, resolving tool calls before returning.
func (c *Client) Prompt(ctx context.Context, prompt string, opts ...llms.PromptOption) ([]llms.Response, error) {
	return Prompt(ctx, c.apiKey, c.model, prompt, "", nil, opts...)
}
