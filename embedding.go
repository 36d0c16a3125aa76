package ragchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EmbeddingModel names the model used to embed queries and documents.
// Queries must be embedded with the same model that embedded the documents.
type EmbeddingModel string

const (
	// EmbeddingModelTextEmbeddingAda002 is the OpenAI model the document index is built with by default.
	EmbeddingModelTextEmbeddingAda002 EmbeddingModel = "text-embedding-ada-002"

	// EmbeddingModelTextEmbedding3Small is OpenAI's smaller third generation model.
	EmbeddingModelTextEmbedding3Small EmbeddingModel = "text-embedding-3-small"

	// EmbeddingModelTitanEmbedTextV2 is Amazon Titan on Bedrock.
	EmbeddingModelTitanEmbedTextV2 EmbeddingModel = "amazon.titan-embed-text-v2:0"

	// EmbeddingModelCohereEmbedEnglishV3 is Cohere on Bedrock.
	EmbeddingModelCohereEmbedEnglishV3 EmbeddingModel = "cohere.embed-english-v3"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com"

// EmbeddingProvider generates embedding vectors for a batch of texts.
type EmbeddingProvider interface {
	Generate(ctx context.Context, texts []string, model EmbeddingModel) (*EmbeddingResponse, error)
}

// EmbeddingObject is a single embedding vector at position Index of the input batch.
type EmbeddingObject struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Usage reports token usage for an embedding request.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResponse is the result of an embedding request.
type EmbeddingResponse struct {
	Object string            `json:"object"`
	Data   []EmbeddingObject `json:"data"`
	Model  EmbeddingModel    `json:"model"`
	Usage  Usage             `json:"usage"`
}

// Vectors returns the embeddings ordered by their input index.
func (r *EmbeddingResponse) Vectors(n int) ([][]float32, error) {
	if r == nil || len(r.Data) != n {
		got := 0
		if r != nil {
			got = len(r.Data)
		}
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, got)
	}

	vectors := make([][]float32, n)
	for _, obj := range r.Data {
		if obj.Index < 0 || obj.Index >= n {
			return nil, fmt.Errorf("embedding index %d out of range", obj.Index)
		}
		if len(obj.Embedding) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", obj.Index)
		}
		vectors[obj.Index] = obj.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

// EmbeddingService binds a provider to one model and exposes query and document helpers.
type EmbeddingService struct {
	provider EmbeddingProvider
	model    EmbeddingModel
}

// NewEmbeddingService creates a service that embeds everything with model.
func NewEmbeddingService(provider EmbeddingProvider, model EmbeddingModel) *EmbeddingService {
	return &EmbeddingService{
		provider: provider,
		model:    model,
	}
}

// Model returns the configured embedding model.
func (s *EmbeddingService) Model() EmbeddingModel {
	return s.model
}

// EmbedQuery embeds a single query string.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := s.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds texts in one provider call and returns vectors in input order.
func (s *EmbeddingService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateEmbeddingInput(texts); err != nil {
		return nil, err
	}

	resp, err := s.provider.Generate(ctx, texts, s.model)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	return resp.Vectors(len(texts))
}

func validateEmbeddingInput(texts []string) error {
	if len(texts) == 0 {
		return errors.New("input cannot be empty")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("input %d is blank", i)
		}
	}
	return nil
}

// OpenAICompatibleEmbeddingProvider implements EmbeddingProvider against an OpenAI-compatible REST API.
type OpenAICompatibleEmbeddingProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAICompatibleEmbeddingProvider creates a provider for baseURL. An empty
// baseURL means the public OpenAI endpoint; an empty apiKey sends no auth header.
func NewOpenAICompatibleEmbeddingProvider(baseURL, apiKey string, httpClient *http.Client) *OpenAICompatibleEmbeddingProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAICompatibleEmbeddingProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type embeddingRequest struct {
	Input          []string       `json:"input"`
	Model          EmbeddingModel `json:"model"`
	EncodingFormat string         `json:"encoding_format"`
}

// Generate implements EmbeddingProvider.
func (p *OpenAICompatibleEmbeddingProvider) Generate(ctx context.Context, texts []string, model EmbeddingModel) (*EmbeddingResponse, error) {
	reqBody := embeddingRequest{
		Input:          texts,
		Model:          model,
		EncodingFormat: "float",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &LLMError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var embResp EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &embResp, nil
}
