package ragchat

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/shaharia-lab/ragchat/observability"
	"golang.org/x/sync/errgroup"
)

// DocumentChunk is one embedded piece of a source document.
type DocumentChunk struct {
	Content   string
	Metadata  map[string]interface{}
	Embedding []float32
}

// DocumentWriter persists embedded chunks into the vector index.
type DocumentWriter interface {
	WriteChunks(ctx context.Context, chunks []DocumentChunk) error
}

// Ingestor chunks documents, embeds the chunks and hands them to a DocumentWriter.
type Ingestor struct {
	chunker     ChunkingProvider
	embedder    *EmbeddingService
	writer      DocumentWriter
	batchSize   int
	concurrency int
	logger      observability.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithBatchSize sets how many chunks go into one embedding call.
func WithBatchSize(n int) IngestorOption {
	return func(i *Ingestor) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithEmbeddingConcurrency caps the number of embedding calls in flight.
func WithEmbeddingConcurrency(n int) IngestorOption {
	return func(i *Ingestor) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithIngestLogger sets the logger.
func WithIngestLogger(logger observability.Logger) IngestorOption {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIngestor creates an Ingestor. Defaults: batches of 32, 4 concurrent embedding calls.
func NewIngestor(chunker ChunkingProvider, embedder *EmbeddingService, writer DocumentWriter, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		chunker:     chunker,
		embedder:    embedder,
		writer:      writer,
		batchSize:   32,
		concurrency: 4,
		logger:      observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest splits text from source, embeds every chunk and writes them. It
// returns the number of chunks written. Nothing is written if any batch fails.
func (i *Ingestor) Ingest(ctx context.Context, source, text string) (int, error) {
	ctx, span := observability.StartSpan(ctx, "Ingestor.Ingest")
	defer span.End()

	contents, err := i.chunker.Chunk(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk %s: %w", source, err)
	}
	if len(contents) == 0 {
		i.logger.WithFields(map[string]interface{}{"source": source}).Warn("document produced no chunks")
		return 0, nil
	}

	chunks := make([]DocumentChunk, len(contents))
	for n, content := range contents {
		chunks[n] = DocumentChunk{
			Content: content,
			Metadata: map[string]interface{}{
				"source": source,
				"chunk":  n,
			},
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for start := 0; start < len(chunks); start += i.batchSize {
		end := min(start+i.batchSize, len(chunks))
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for n, c := range batch {
				texts[n] = c.Content
			}

			vectors, err := i.embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
			}
			for n := range batch {
				batch[n].Embedding = vectors[n]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := i.writer.WriteChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to write chunks: %w", err)
	}

	i.logger.WithFields(map[string]interface{}{
		"source": source,
		"chunks": len(chunks),
	}).Info("document ingested")
	return len(chunks), nil
}

// PGVectorDocumentWriter inserts chunks into a pgvector-backed documents table.
type PGVectorDocumentWriter struct {
	db    *sql.DB
	table string
}

// NewPGVectorDocumentWriter creates a writer for table. An empty table means DefaultDocumentsTable.
func NewPGVectorDocumentWriter(db *sql.DB, table string) *PGVectorDocumentWriter {
	if table == "" {
		table = DefaultDocumentsTable
	}
	return &PGVectorDocumentWriter{db: db, table: table}
}

func (w *PGVectorDocumentWriter) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3)", pq.QuoteIdentifier(w.table))
}

// EnsureSchema creates the vector extension, the documents table and the
// match function the retrievers call.
func (w *PGVectorDocumentWriter) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	table := pq.QuoteIdentifier(w.table)
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding VECTOR(%d)
		)`, table, dimensions),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s(query_embedding VECTOR(%d), match_count INT DEFAULT NULL, filter JSONB DEFAULT '{}')
		RETURNS TABLE (id BIGINT, content TEXT, metadata JSONB, similarity FLOAT)
		LANGUAGE plpgsql AS $$
		#variable_conflict use_column
		BEGIN
			RETURN QUERY
			SELECT id, content, metadata, 1 - (d.embedding <=> query_embedding) AS similarity
			FROM %s d
			WHERE metadata @> filter
			ORDER BY d.embedding <=> query_embedding
			LIMIT match_count;
		END;
		$$`, pq.QuoteIdentifier(DefaultMatchFunction), dimensions, table),
	}

	for _, stmt := range statements {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize documents schema: %w", err)
		}
	}
	return nil
}

// WriteChunks implements DocumentWriter. All chunks are inserted in one transaction.
func (w *PGVectorDocumentWriter) WriteChunks(ctx context.Context, chunks []DocumentChunk) (err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insert := w.insertSQL()
	for n, chunk := range chunks {
		metadata, mErr := json.Marshal(chunk.Metadata)
		if mErr != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %d: %w", n, mErr)
		}
		if _, err = tx.ExecContext(ctx, insert, chunk.Content, string(metadata), pgvector.NewVector(chunk.Embedding)); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", n, err)
		}
	}

	return tx.Commit()
}

// SupabaseDocumentWriter inserts chunks through the Supabase REST API.
type SupabaseDocumentWriter struct {
	baseURL    string
	apiKey     string
	table      string
	httpClient *http.Client
}

// NewSupabaseDocumentWriter creates a writer for table in the Supabase project at baseURL.
func NewSupabaseDocumentWriter(baseURL, apiKey, table string, httpClient *http.Client) *SupabaseDocumentWriter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if table == "" {
		table = DefaultDocumentsTable
	}
	return &SupabaseDocumentWriter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		table:      table,
		httpClient: httpClient,
	}
}

type supabaseDocumentRow struct {
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Embedding []float32              `json:"embedding"`
}

// WriteChunks implements DocumentWriter with a single bulk insert.
func (w *SupabaseDocumentWriter) WriteChunks(ctx context.Context, chunks []DocumentChunk) error {
	rows := make([]supabaseDocumentRow, len(chunks))
	for n, chunk := range chunks {
		rows[n] = supabaseDocumentRow{Content: chunk.Content, Metadata: chunk.Metadata, Embedding: chunk.Embedding}
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/rest/v1/"+w.table, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	req.Header.Set("apikey", w.apiKey)
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
