package ragchat

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClientProvider abstracts the message operation used by AnthropicLLMProvider.
type AnthropicClientProvider interface {
	// CreateMessage creates a new message using Anthropic's API.
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// AnthropicClient implements the AnthropicClientProvider interface using Anthropic's official SDK.
type AnthropicClient struct {
	messages *anthropic.MessageService
}

// NewAnthropicClient creates a new instance of AnthropicClient with the provided API key.
//
// Example usage:
//
//	client := NewAnthropicClient("your-api-key")
//	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{
//	    Client: client,
//	    Model:  anthropic.ModelClaude_3_5_Sonnet_20240620,
//	})
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	opts = append(opts, option.WithAPIKey(apiKey))
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		messages: client.Messages,
	}
}

// CreateMessage implements the AnthropicClientProvider interface using the Anthropic client.
func (c *AnthropicClient) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.messages.New(ctx, params)
}
