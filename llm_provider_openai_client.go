package ragchat

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClientProvider is the part of the OpenAI API used by OpenAILLMProvider.
type OpenAIClientProvider interface {
	// CreateCompletion creates a new chat completion using OpenAI's API.
	CreateCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// OpenAIClient implements the OpenAIClientProvider interface using OpenAI's official SDK.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new instance of OpenAIClient with the provided API key
// and optional client options.
//
// Example usage:
//
//	// Basic usage with API key
//	client := NewOpenAIClient("your-api-key")
//
//	// OpenAI compatible server
//	client := NewOpenAIClient(
//	    "your-api-key",
//	    option.WithBaseURL("http://localhost:11434/v1/"),
//	)
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *OpenAIClient {
	opts = append(opts, option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client: openai.NewClient(opts...),
	}
}

// CreateCompletion implements the OpenAIClientProvider interface using the OpenAI client.
func (c *OpenAIClient) CreateCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
