package ragchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SupabaseRetriever calls the match function through the Supabase PostgREST RPC endpoint.
type SupabaseRetriever struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	embedder   *EmbeddingService
	config     RetrieverConfig
}

// NewSupabaseRetriever creates a retriever for the Supabase project at baseURL.
func NewSupabaseRetriever(baseURL, apiKey string, httpClient *http.Client, embedder *EmbeddingService, opts ...RetrieverOption) *SupabaseRetriever {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SupabaseRetriever{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		embedder:   embedder,
		config:     newRetrieverConfig(opts...),
	}
}

type matchDocumentsRequest struct {
	QueryEmbedding []float32              `json:"query_embedding"`
	MatchCount     int                    `json:"match_count"`
	Filter         map[string]interface{} `json:"filter"`
}

// Retrieve implements Retriever.
func (r *SupabaseRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	vec, err := embedQuery(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(matchDocumentsRequest{
		QueryEmbedding: vec,
		MatchCount:     r.config.MatchCount,
		Filter:         r.config.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/rest/v1/rpc/%s", r.baseURL, r.config.MatchFunction)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected status code %d: %s", ErrRetrievalUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var passages []Passage
	if err := json.NewDecoder(resp.Body).Decode(&passages); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrRetrievalUnavailable, err)
	}

	return passages, nil
}
