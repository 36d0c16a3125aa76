package ragchat

import (
	"context"
	"fmt"
	"strings"
)

// Defaults for the document index.
const (
	DefaultDocumentsTable = "documents"
	DefaultMatchFunction  = "match_documents"
	DefaultMatchCount     = 4
)

// Retriever returns passages relevant to a query, most relevant first.
// Failures wrap ErrRetrievalUnavailable.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

// RetrieverConfig holds the similarity search parameters shared by retriever adapters.
type RetrieverConfig struct {
	// MatchFunction is the stored procedure performing the similarity search.
	MatchFunction string
	// MatchCount is the number of passages requested per query.
	MatchCount int
	// Filter is passed to the match function to restrict results by metadata.
	Filter map[string]interface{}
}

// RetrieverOption configures a RetrieverConfig.
type RetrieverOption func(*RetrieverConfig)

// WithMatchFunction overrides the match function name.
func WithMatchFunction(name string) RetrieverOption {
	return func(c *RetrieverConfig) {
		c.MatchFunction = name
	}
}

// WithMatchCount overrides how many passages are requested. Values below 1 are ignored.
func WithMatchCount(n int) RetrieverOption {
	return func(c *RetrieverConfig) {
		if n > 0 {
			c.MatchCount = n
		}
	}
}

// WithMetadataFilter restricts matches to documents whose metadata contains filter.
func WithMetadataFilter(filter map[string]interface{}) RetrieverOption {
	return func(c *RetrieverConfig) {
		c.Filter = filter
	}
}

func newRetrieverConfig(opts ...RetrieverOption) RetrieverConfig {
	cfg := RetrieverConfig{
		MatchFunction: DefaultMatchFunction,
		MatchCount:    DefaultMatchCount,
		Filter:        map[string]interface{}{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Filter == nil {
		cfg.Filter = map[string]interface{}{}
	}
	return cfg
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	return nil
}

// embedQuery embeds query and classifies any failure as retrieval unavailability.
func embedQuery(ctx context.Context, embedder *EmbeddingService, query string) ([]float32, error) {
	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}
	return vec, nil
}
