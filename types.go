// Package ragchat provides a retrieval-augmented conversational question answering
// pipeline on top of pluggable LLM providers, vector retrievers and session stores.
package ragchat

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// LLMMessageRole represents the role of a message sent to an LLM provider.
type LLMMessageRole string

const (
	// UserRole represents a message from the user.
	UserRole LLMMessageRole = "user"
	// AssistantRole represents a message from the assistant.
	AssistantRole LLMMessageRole = "assistant"
	// SystemRole represents a system instruction.
	SystemRole LLMMessageRole = "system"
)

// LLMMessage is a single message exchanged with an LLM provider.
type LLMMessage struct {
	Role LLMMessageRole `json:"role"`
	Text string         `json:"text"`
}

// LLMResponse contains the generated text and usage statistics of a single request.
type LLMResponse struct {
	Text             string  `json:"text"`
	TotalInputToken  int     `json:"total_input_token"`
	TotalOutputToken int     `json:"total_output_token"`
	CompletionTime   float64 `json:"completion_time"`
}

// LLMError represents a protocol level error returned by an LLM provider.
type LLMError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("LLM error %d: %s", e.Code, e.Message)
}

// LLMProvider is implemented by every language model backend.
// Implementations must be safe for concurrent use.
type LLMProvider interface {
	GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error)
}

// LLMRequestConfig holds the sampling options sent with each request.
type LLMRequestConfig struct {
	MaxToken    int64
	TopP        float64
	Temperature float64
	TopK        int64
}

// DefaultConfig is the configuration used when no options are supplied.
var DefaultConfig = LLMRequestConfig{
	MaxToken:    1000,
	TopP:        0.5,
	Temperature: 0.5,
	TopK:        40,
}

// RequestOption mutates an LLMRequestConfig.
type RequestOption func(*LLMRequestConfig)

// WithMaxToken sets the maximum number of tokens to generate.
func WithMaxToken(maxToken int64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.MaxToken = maxToken
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.TopP = topP
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.Temperature = temperature
	}
}

// WithTopK sets top-k sampling.
func WithTopK(topK int64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.TopK = topK
	}
}

// NewRequestConfig builds an LLMRequestConfig starting from DefaultConfig.
//
// Example usage:
//
//	config := ragchat.NewRequestConfig(
//	    ragchat.WithMaxToken(500),
//	    ragchat.WithTemperature(0),
//	)
func NewRequestConfig(opts ...RequestOption) LLMRequestConfig {
	config := DefaultConfig
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// LLMPromptTemplate renders a text/template into a prompt string.
type LLMPromptTemplate struct {
	Template string
	Data     map[string]interface{}
}

// Parse executes the template against Data.
func (p *LLMPromptTemplate) Parse() (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(p.Template)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p.Data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
