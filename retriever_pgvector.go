package ragchat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PGVectorRetriever runs the match function directly against a Postgres
// database with the pgvector extension.
type PGVectorRetriever struct {
	db       *sql.DB
	embedder *EmbeddingService
	config   RetrieverConfig
}

// NewPGVectorRetriever creates a retriever that queries db with embeddings from embedder.
func NewPGVectorRetriever(db *sql.DB, embedder *EmbeddingService, opts ...RetrieverOption) *PGVectorRetriever {
	return &PGVectorRetriever{
		db:       db,
		embedder: embedder,
		config:   newRetrieverConfig(opts...),
	}
}

func (r *PGVectorRetriever) matchQuery() string {
	return fmt.Sprintf("SELECT id, content, metadata, similarity FROM %s($1, $2, $3)", pq.QuoteIdentifier(r.config.MatchFunction))
}

// Retrieve implements Retriever.
func (r *PGVectorRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	vec, err := embedQuery(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}

	filter, err := json.Marshal(r.config.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, r.matchQuery(), pgvector.NewVector(vec), r.config.MatchCount, string(filter))
	if err != nil {
		return nil, fmt.Errorf("%w: match query failed: %w", ErrRetrievalUnavailable, err)
	}
	defer rows.Close()

	passages := make([]Passage, 0, r.config.MatchCount)
	for rows.Next() {
		var (
			p        Passage
			metadata []byte
		)
		if err := rows.Scan(&p.ID, &p.Content, &metadata, &p.Similarity); err != nil {
			return nil, fmt.Errorf("%w: failed to scan passage: %w", ErrRetrievalUnavailable, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
				return nil, fmt.Errorf("%w: malformed metadata for passage %d: %w", ErrRetrievalUnavailable, p.ID, err)
			}
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}

	return passages, nil
}
