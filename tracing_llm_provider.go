package ragchat

import (
	"context"
	"time"

	"github.com/shaharia-lab/ragchat/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingLLMProvider wraps an LLMProvider and records a span per call.
type TracingLLMProvider struct {
	provider LLMProvider
	name     string
}

// NewTracingLLMProvider creates a new tracing decorator for any LLMProvider.
// name identifies the wrapped provider in span attributes.
func NewTracingLLMProvider(provider LLMProvider, name string) *TracingLLMProvider {
	return &TracingLLMProvider{
		provider: provider,
		name:     name,
	}
}

// GetResponse implements LLMProvider interface with added tracing
func (t *TracingLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	ctx, span := observability.StartSpan(ctx, "LLMProvider.GetResponse")
	defer span.End()

	startTime := time.Now()
	span.SetAttributes(
		attribute.String("llm.provider", t.name),
		attribute.Int("message_count", len(messages)),
		attribute.Int64("max_token", config.MaxToken),
		attribute.Float64("temperature", config.Temperature),
		attribute.Float64("top_p", config.TopP),
		attribute.Int64("top_k", config.TopK),
	)

	response, err := t.provider.GetResponse(ctx, messages, config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		return LLMResponse{}, err
	}

	span.SetAttributes(
		attribute.Int("total_input_token", response.TotalInputToken),
		attribute.Int("total_output_token", response.TotalOutputToken),
		attribute.Float64("completion_time", time.Since(startTime).Seconds()),
	)

	return response, nil
}
