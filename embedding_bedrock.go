package ragchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/shaharia-lab/ragchat/observability"
)

// Cohere input types. Queries and indexed documents use different types.
const (
	CohereInputSearchDocument = "search_document"
	CohereInputSearchQuery    = "search_query"
)

// BedrockEmbeddingProvider implements EmbeddingProvider with Titan or Cohere models on AWS Bedrock.
type BedrockEmbeddingProvider struct {
	client          BedrockClient
	cohereInputType string
	logger          observability.Logger
}

// BedrockEmbeddingOption configures a BedrockEmbeddingProvider.
type BedrockEmbeddingOption func(*BedrockEmbeddingProvider)

// WithCohereInputType sets the input_type sent to Cohere models.
func WithCohereInputType(inputType string) BedrockEmbeddingOption {
	return func(p *BedrockEmbeddingProvider) {
		p.cohereInputType = inputType
	}
}

// WithBedrockEmbeddingLogger sets the logger used for non-fatal warnings.
func WithBedrockEmbeddingLogger(logger observability.Logger) BedrockEmbeddingOption {
	return func(p *BedrockEmbeddingProvider) {
		p.logger = logger
	}
}

// NewBedrockEmbeddingProvider creates a provider backed by client.
func NewBedrockEmbeddingProvider(client BedrockClient, opts ...BedrockEmbeddingOption) *BedrockEmbeddingProvider {
	p := &BedrockEmbeddingProvider{
		client:          client,
		cohereInputType: CohereInputSearchDocument,
		logger:          observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate implements EmbeddingProvider.
func (b *BedrockEmbeddingProvider) Generate(ctx context.Context, texts []string, model EmbeddingModel) (*EmbeddingResponse, error) {
	if b.client == nil {
		return nil, errors.New("bedrock client is not initialized")
	}
	if err := validateEmbeddingInput(texts); err != nil {
		return nil, err
	}

	modelStr := string(model)
	switch {
	case strings.HasPrefix(modelStr, "amazon.titan-embed"):
		return b.generateWithTitan(ctx, texts, model)
	case strings.HasPrefix(modelStr, "cohere.embed"):
		return b.generateWithCohere(ctx, texts, model)
	default:
		b.logger.WithFields(map[string]interface{}{"model": modelStr}).Warn("unknown bedrock embedding model family, using titan format")
		return b.generateWithTitan(ctx, texts, model)
	}
}

// Titan accepts one input text per call.
func (b *BedrockEmbeddingProvider) generateWithTitan(ctx context.Context, texts []string, model EmbeddingModel) (*EmbeddingResponse, error) {
	embeddings := make([]EmbeddingObject, 0, len(texts))
	totalTokens := 0

	for i, text := range texts {
		bodyBytes, err := json.Marshal(map[string]string{"inputText": text})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal titan request body: %w", err)
		}

		resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(string(model)),
			Body:        bodyBytes,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock InvokeModel failed for titan (index %d): %w", i, err)
		}

		var titanResp struct {
			Embedding           []float32 `json:"embedding"`
			InputTextTokenCount int       `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(resp.Body, &titanResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal titan response body (index %d): %w", i, err)
		}

		embeddings = append(embeddings, EmbeddingObject{
			Object:    "embedding",
			Embedding: titanResp.Embedding,
			Index:     i,
		})
		totalTokens += titanResp.InputTextTokenCount
	}

	return &EmbeddingResponse{
		Object: "list",
		Data:   embeddings,
		Model:  model,
		Usage:  Usage{PromptTokens: totalTokens, TotalTokens: totalTokens},
	}, nil
}

// Cohere embeds the whole batch in one call.
func (b *BedrockEmbeddingProvider) generateWithCohere(ctx context.Context, texts []string, model EmbeddingModel) (*EmbeddingResponse, error) {
	bodyBytes, err := json.Marshal(map[string]interface{}{
		"texts":      texts,
		"input_type": b.cohereInputType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cohere request body: %w", err)
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(string(model)),
		Body:        bodyBytes,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel failed for cohere: %w", err)
	}

	var cohereResp struct {
		Embeddings [][]float32 `json:"embeddings"`
		Meta       *struct {
			BilledUnits *struct {
				InputTokens int `json:"input_tokens"`
			} `json:"billed_units"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(resp.Body, &cohereResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cohere response body: %w", err)
	}

	if len(cohereResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("cohere response embeddings count (%d) does not match input texts count (%d)", len(cohereResp.Embeddings), len(texts))
	}

	embeddings := make([]EmbeddingObject, len(texts))
	for i, emb := range cohereResp.Embeddings {
		embeddings[i] = EmbeddingObject{Object: "embedding", Embedding: emb, Index: i}
	}

	promptTokens := 0
	if cohereResp.Meta != nil && cohereResp.Meta.BilledUnits != nil {
		promptTokens = cohereResp.Meta.BilledUnits.InputTokens
	} else {
		b.logger.WithFields(map[string]interface{}{"model": string(model)}).Warn("cohere response carried no token usage")
	}

	return &EmbeddingResponse{
		Object: "list",
		Data:   embeddings,
		Model:  model,
		Usage:  Usage{PromptTokens: promptTokens, TotalTokens: promptTokens},
	}, nil
}
