package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaharia-lab/ragchat"
	"github.com/spf13/cobra"
)

const (
	chunkerRecursive = "recursive"
	chunkerLLM       = "llm"
)

var ingestExtensions = map[string]bool{".txt": true, ".md": true, ".markdown": true}

type ingestOptions struct {
	chunkSize    int
	chunkOverlap int
	chunker      string
	batchSize    int
	concurrency  int
	initSchema   bool
	dimensions   int
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	o := &ingestOptions{}

	cmd := &cobra.Command{
		Use:     "ingest [file or directory...]",
		Short:   "Chunk, embed and index documents into the knowledge base",
		Aliases: []string{"i"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.chunker != chunkerRecursive && o.chunker != chunkerLLM {
				return fmt.Errorf("unknown chunker %q (want %s or %s)", o.chunker, chunkerRecursive, chunkerLLM)
			}

			files, err := collectIngestFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errors.New("no .txt or .md files found")
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := setupTracing(a, opts.traceStdout, cmd.ErrOrStderr()); err != nil {
				return err
			}

			embedder, err := a.buildEmbedder(ctx, ragchat.CohereInputSearchDocument)
			if err != nil {
				return err
			}

			writer, pgWriter, err := a.buildDocumentWriter(ctx)
			if err != nil {
				return err
			}
			if o.initSchema {
				if pgWriter == nil {
					return errors.New("--init-schema requires the pgvector retriever backend")
				}
				if err := pgWriter.EnsureSchema(ctx, o.dimensions); err != nil {
					return err
				}
			}

			var chunker ragchat.ChunkingProvider = ragchat.NewRecursiveChunker(o.chunkSize, o.chunkOverlap)
			if o.chunker == chunkerLLM {
				llm, err := a.buildLLMProvider(ctx, cfg.LLM.Model)
				if err != nil {
					return err
				}
				chunker = ragchat.NewChunkingByLLMProvider(ragchat.NewLLMRequest(
					ragchat.NewRequestConfig(ragchat.WithMaxToken(cfg.LLM.MaxTokens), ragchat.WithTemperature(0)),
					llm,
				))
			}

			ingestor := ragchat.NewIngestor(chunker, embedder, writer,
				ragchat.WithBatchSize(o.batchSize),
				ragchat.WithEmbeddingConcurrency(o.concurrency),
				ragchat.WithIngestLogger(a.logger),
			)

			total := 0
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				n, err := ingestor.Ingest(ctx, filepath.Base(path), string(data))
				if err != nil {
					return fmt.Errorf("failed to ingest %s: %w", path, err)
				}
				total += n
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", path, n)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d files.\n", total, len(files))
			return nil
		},
	}

	cmd.Flags().IntVar(&o.chunkSize, "chunk-size", ragchat.DefaultChunkSize, "Maximum characters per chunk")
	cmd.Flags().IntVar(&o.chunkOverlap, "chunk-overlap", ragchat.DefaultChunkOverlap, "Characters shared by neighbouring chunks")
	cmd.Flags().StringVar(&o.chunker, "chunker", chunkerRecursive, "Chunking strategy: recursive or llm")
	cmd.Flags().IntVar(&o.batchSize, "batch-size", 32, "Chunks per embedding request")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 4, "Embedding requests in flight")
	cmd.Flags().BoolVar(&o.initSchema, "init-schema", false, "Create the pgvector table and match function before ingesting")
	cmd.Flags().IntVar(&o.dimensions, "dimensions", 1536, "Embedding dimensions used by --init-schema")
	return cmd
}

// collectIngestFiles expands directories into the text files beneath them.
// Explicitly named files are taken regardless of extension.
func collectIngestFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if ingestExtensions[strings.ToLower(filepath.Ext(p))] {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}
	return files, nil
}
