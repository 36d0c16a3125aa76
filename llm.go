package ragchat

import (
	"context"
)

// LLMRequest binds a request configuration to an LLM provider.
// The conversation chain holds one LLMRequest per stage so the rewrite and
// answer stages can use different models or sampling settings.
type LLMRequest struct {
	requestConfig LLMRequestConfig
	provider      LLMProvider
}

// NewLLMRequest creates a new LLMRequest with the specified configuration and provider.
//
// Example usage:
//
//	provider := ragchat.NewOpenAILLMProvider(ragchat.OpenAIProviderConfig{
//	    Client: ragchat.NewOpenAIClient("your-api-key"),
//	    Model:  "gpt-4o-mini",
//	})
//
//	rewriteLLM := ragchat.NewLLMRequest(ragchat.NewRequestConfig(
//	    ragchat.WithTemperature(0),
//	), provider)
func NewLLMRequest(config LLMRequestConfig, provider LLMProvider) *LLMRequest {
	return &LLMRequest{
		requestConfig: config,
		provider:      provider,
	}
}

// Generate sends messages to the configured provider and returns its response.
func (r *LLMRequest) Generate(ctx context.Context, messages []LLMMessage) (LLMResponse, error) {
	return r.provider.GetResponse(ctx, messages, r.requestConfig)
}

// GeneratePrompt renders a single-message prompt and sends it as a user message.
func (r *LLMRequest) GeneratePrompt(ctx context.Context, template *LLMPromptTemplate) (LLMResponse, error) {
	prompt, err := template.Parse()
	if err != nil {
		return LLMResponse{}, err
	}

	return r.Generate(ctx, []LLMMessage{
		{Role: UserRole, Text: prompt},
	})
}
