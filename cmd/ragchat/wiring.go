package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shaharia-lab/ragchat"
	"github.com/shaharia-lab/ragchat/config"
	"github.com/shaharia-lab/ragchat/observability"
)

const (
	defaultGeminiModel      = "gemini-1.5-flash"
	defaultBadgerPath       = "ragchat-sessions"
	embeddingRequestTimeout = 30 * time.Second
)

// app owns the long-lived dependencies built from a Config and releases them on Close.
type app struct {
	cfg      *config.Config
	logger   observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	bedrock  ragchat.BedrockClient
	postgres map[string]*sql.DB
	closers  []func() error
}

func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	logger, err := observability.NewLogger(cfg.Log.Driver, cfg.Log.Level, logOut)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		postgres: map[string]*sql.DB{},
	}, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) bedrockClient(ctx context.Context) (ragchat.BedrockClient, error) {
	if a.bedrock != nil {
		return a.bedrock, nil
	}
	client, err := ragchat.NewBedrockClient(ctx, a.cfg.LLM.AWSRegion)
	if err != nil {
		return nil, err
	}
	a.bedrock = client
	return client, nil
}

func (a *app) openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if db, ok := a.postgres[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	a.postgres[dsn] = db
	a.onClose(db.Close)
	return db, nil
}

// buildLLMProvider returns the configured chat model provider, traced and
// optionally rate limited. An empty model selects the provider's default.
func (a *app) buildLLMProvider(ctx context.Context, model string) (ragchat.LLMProvider, error) {
	cfg := a.cfg.LLM

	var provider ragchat.LLMProvider
	switch cfg.Provider {
	case "openai":
		var opts []option.RequestOption
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.OpenAIBaseURL, "/")+"/"))
		}
		provider = ragchat.NewOpenAILLMProvider(ragchat.OpenAIProviderConfig{
			Client: ragchat.NewOpenAIClient(cfg.OpenAIAPIKey, opts...),
			Model:  openai.ChatModel(model),
		})
	case "anthropic":
		provider = ragchat.NewAnthropicLLMProvider(ragchat.AnthropicProviderConfig{
			Client: ragchat.NewAnthropicClient(cfg.AnthropicAPIKey),
			Model:  anthropic.Model(model),
		})
	case "bedrock":
		client, err := a.bedrockClient(ctx)
		if err != nil {
			return nil, err
		}
		provider = ragchat.NewBedrockLLMProvider(ragchat.BedrockProviderConfig{
			Client: client,
			Model:  model,
		})
	case "gemini":
		if model == "" {
			model = defaultGeminiModel
		}
		service, err := ragchat.NewGoogleGeminiService(ctx, cfg.GeminiAPIKey, model)
		if err != nil {
			return nil, err
		}
		a.onClose(service.Close)
		provider, err = ragchat.NewGeminiProvider(service, a.logger)
		if err != nil {
			return nil, err
		}
	case "noop":
		provider = ragchat.NewNoOpsLLMProvider()
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	provider = ragchat.NewTracingLLMProvider(provider, cfg.Provider)
	if cfg.RequestsPerSecond > 0 {
		provider = ragchat.NewRateLimitedLLMProvider(provider, cfg.RequestsPerSecond, cfg.Burst)
	}
	return provider, nil
}

// buildEmbedder returns the embedding service. cohereInputType only matters
// for Cohere models on Bedrock.
func (a *app) buildEmbedder(ctx context.Context, cohereInputType string) (*ragchat.EmbeddingService, error) {
	cfg := a.cfg.Embedding
	model := ragchat.EmbeddingModel(cfg.Model)

	switch cfg.Provider {
	case "openai":
		httpClient := &http.Client{Timeout: embeddingRequestTimeout}
		return ragchat.NewEmbeddingService(ragchat.NewOpenAICompatibleEmbeddingProvider(cfg.BaseURL, cfg.APIKey, httpClient), model), nil
	case "bedrock":
		client, err := a.bedrockClient(ctx)
		if err != nil {
			return nil, err
		}
		provider := ragchat.NewBedrockEmbeddingProvider(client,
			ragchat.WithCohereInputType(cohereInputType),
			ragchat.WithBedrockEmbeddingLogger(a.logger),
		)
		return ragchat.NewEmbeddingService(provider, model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

func (a *app) buildRetriever(ctx context.Context) (ragchat.Retriever, error) {
	cfg := a.cfg.Retriever

	embedder, err := a.buildEmbedder(ctx, ragchat.CohereInputSearchQuery)
	if err != nil {
		return nil, err
	}

	opts := []ragchat.RetrieverOption{
		ragchat.WithMatchFunction(cfg.MatchFunction),
		ragchat.WithMatchCount(cfg.MatchCount),
	}

	switch cfg.Backend {
	case "supabase":
		return ragchat.NewSupabaseRetriever(cfg.SupabaseURL, cfg.SupabaseAPIKey, nil, embedder, opts...), nil
	case "pgvector":
		db, err := a.openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return ragchat.NewPGVectorRetriever(db, embedder, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported retriever backend %q", cfg.Backend)
	}
}

// buildDocumentWriter returns the ingestion sink matching the retriever backend.
// The second result is non-nil for pgvector so callers can create the schema.
func (a *app) buildDocumentWriter(ctx context.Context) (ragchat.DocumentWriter, *ragchat.PGVectorDocumentWriter, error) {
	cfg := a.cfg.Retriever

	switch cfg.Backend {
	case "supabase":
		return ragchat.NewSupabaseDocumentWriter(cfg.SupabaseURL, cfg.SupabaseAPIKey, ragchat.DefaultDocumentsTable, nil), nil, nil
	case "pgvector":
		db, err := a.openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		writer := ragchat.NewPGVectorDocumentWriter(db, ragchat.DefaultDocumentsTable)
		return writer, writer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported retriever backend %q", cfg.Backend)
	}
}

// buildSessionStore opens the configured session store. Background pruning
// runs until ctx is done.
func (a *app) buildSessionStore(ctx context.Context) (ragchat.SessionStore, error) {
	cfg := a.cfg.Session
	limits := ragchat.SessionLimits{MaxTurns: cfg.MaxTurns}

	switch cfg.Backend {
	case "memory":
		store := ragchat.NewInMemorySessionStore(
			ragchat.WithMaxTurns(cfg.MaxTurns),
			ragchat.WithMaxSessions(cfg.MaxSessions),
			ragchat.WithSessionTTL(cfg.TTL),
			ragchat.WithSessionMetrics(a.metrics),
		)
		store.StartPruning(ctx, cfg.PruneInterval)
		return store, nil
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		store, err := ragchat.NewSQLiteSessionStore(ctx, db, limits, a.logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.onClose(store.Close)
		a.startSQLPruning(ctx, store)
		return store, nil
	case "postgres":
		db, err := a.openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store, err := ragchat.NewPostgresSessionStore(ctx, db, limits, a.logger)
		if err != nil {
			return nil, err
		}
		a.startSQLPruning(ctx, store)
		return store, nil
	case "badger":
		path := cfg.Path
		if path == "" {
			path = defaultBadgerPath
		}
		db, err := ragchat.OpenBadger(path, a.logger)
		if err != nil {
			return nil, err
		}
		store := ragchat.NewBadgerSessionStore(db, limits, cfg.TTL)
		a.onClose(store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}

func (a *app) startSQLPruning(ctx context.Context, store *ragchat.SQLSessionStore) {
	ttl, interval := a.cfg.Session.TTL, a.cfg.Session.PruneInterval
	if ttl <= 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.Prune(ctx, ttl)
				if err != nil {
					a.logger.WithErr(err).Warn("failed to prune idle sessions")
					continue
				}
				if removed > 0 {
					a.logger.WithFields(map[string]interface{}{"removed": removed}).Debug("pruned idle sessions")
				}
			}
		}
	}()
}

// buildService assembles the conversation service from config.
func (a *app) buildService(ctx context.Context) (*ragchat.ConversationService, error) {
	llmCfg := a.cfg.LLM

	answerProvider, err := a.buildLLMProvider(ctx, llmCfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to build llm provider: %w", err)
	}

	rewriteProvider := answerProvider
	if llmCfg.RewriteModel != "" && llmCfg.RewriteModel != llmCfg.Model {
		rewriteProvider, err = a.buildLLMProvider(ctx, llmCfg.RewriteModel)
		if err != nil {
			return nil, fmt.Errorf("failed to build rewrite llm provider: %w", err)
		}
	}

	retriever, err := a.buildRetriever(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build retriever: %w", err)
	}

	store, err := a.buildSessionStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build session store: %w", err)
	}

	chain, err := ragchat.NewConversationChain(ragchat.ChainConfig{
		RewriteLLM: ragchat.NewLLMRequest(ragchat.NewRequestConfig(
			ragchat.WithMaxToken(llmCfg.MaxTokens),
			ragchat.WithTemperature(llmCfg.RewriteTemperature),
		), rewriteProvider),
		AnswerLLM: ragchat.NewLLMRequest(ragchat.NewRequestConfig(
			ragchat.WithMaxToken(llmCfg.MaxTokens),
			ragchat.WithTemperature(llmCfg.Temperature),
		), answerProvider),
		Retriever: retriever,
		Subject:   a.cfg.Chain.Subject,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, err
	}

	return ragchat.NewConversationService(store, chain,
		ragchat.WithTurnTimeout(a.cfg.Chain.TurnTimeout),
		ragchat.WithServiceLogger(a.logger),
		ragchat.WithServiceMetrics(a.metrics),
	), nil
}
