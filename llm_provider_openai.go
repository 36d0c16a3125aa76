package ragchat

import (
	"context"
	"time"

	"github.com/openai/openai-go"
)

// OpenAILLMProvider implements the LLMProvider interface using OpenAI's official SDK.
type OpenAILLMProvider struct {
	client OpenAIClientProvider
	model  string
}

// OpenAIProviderConfig holds configuration for OpenAI provider.
type OpenAIProviderConfig struct {
	// Client is the OpenAIClientProvider implementation to use
	Client OpenAIClientProvider
	// Model specifies which OpenAI model to use (e.g., "gpt-4o-mini")
	Model openai.ChatModel
}

// NewOpenAILLMProvider creates a new OpenAI provider with the specified configuration.
// If no model is specified, it defaults to GPT-3.5-turbo.
func NewOpenAILLMProvider(config OpenAIProviderConfig) *OpenAILLMProvider {
	if config.Model == "" {
		config.Model = string(openai.ChatModelGPT3_5Turbo)
	}

	return &OpenAILLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// convertToOpenAIMessages converts internal message format to OpenAI's format
func (p *OpenAILLMProvider) convertToOpenAIMessages(messages []LLMMessage) []openai.ChatCompletionMessageParamUnion {
	openAIMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case AssistantRole:
			openAIMessages = append(openAIMessages, openai.AssistantMessage(msg.Text))
		case SystemRole:
			openAIMessages = append(openAIMessages, openai.SystemMessage(msg.Text))
		default:
			openAIMessages = append(openAIMessages, openai.UserMessage(msg.Text))
		}
	}
	return openAIMessages
}

// createCompletionParams creates OpenAI API parameters from request config
func (p *OpenAILLMProvider) createCompletionParams(messages []openai.ChatCompletionMessageParamUnion, config LLMRequestConfig) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages:    openai.F(messages),
		Model:       openai.F(p.model),
		MaxTokens:   openai.Int(config.MaxToken),
		TopP:        openai.Float(config.TopP),
		Temperature: openai.Float(config.Temperature),
	}
}

// GetResponse generates a response using OpenAI's chat completions API.
func (p *OpenAILLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()
	params := p.createCompletionParams(p.convertToOpenAIMessages(messages), config)

	completion, err := p.client.CreateCompletion(ctx, params)
	if err != nil {
		return LLMResponse{}, err
	}

	if len(completion.Choices) == 0 {
		return LLMResponse{}, &LLMError{Code: 400, Message: "no choices in response"}
	}

	return LLMResponse{
		Text:             completion.Choices[0].Message.Content,
		TotalInputToken:  int(completion.Usage.PromptTokens),
		TotalOutputToken: int(completion.Usage.CompletionTokens),
		CompletionTime:   time.Since(startTime).Seconds(),
	}, nil
}
