package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/shaharia-lab/ragchat"
	"github.com/shaharia-lab/ragchat/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, mutate func(cfg *config.Config)) *app {
	t.Helper()

	cfg := config.Default()
	cfg.Log.Driver = "null"
	if mutate != nil {
		mutate(cfg)
	}

	a, err := newApp(cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func TestNewApp_InvalidLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"

	_, err := newApp(cfg, io.Discard)
	assert.Error(t, err)
}

func TestBuildLLMProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		rps      float64
		check    func(t *testing.T, p ragchat.LLMProvider)
		wantErr  bool
	}{
		{
			name:     "openai is traced",
			provider: "openai",
			check: func(t *testing.T, p ragchat.LLMProvider) {
				assert.IsType(t, &ragchat.TracingLLMProvider{}, p)
			},
		},
		{
			name:     "anthropic is traced",
			provider: "anthropic",
			check: func(t *testing.T, p ragchat.LLMProvider) {
				assert.IsType(t, &ragchat.TracingLLMProvider{}, p)
			},
		},
		{
			name:     "rate limit wraps the traced provider",
			provider: "noop",
			rps:      5,
			check: func(t *testing.T, p ragchat.LLMProvider) {
				assert.IsType(t, &ragchat.RateLimitedLLMProvider{}, p)
			},
		},
		{
			name:     "unknown provider",
			provider: "mystery",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t, func(cfg *config.Config) {
				cfg.LLM.Provider = tt.provider
				cfg.LLM.RequestsPerSecond = tt.rps
				cfg.LLM.OpenAIAPIKey = "test-key"
				cfg.LLM.AnthropicAPIKey = "test-key"
			})

			p, err := a.buildLLMProvider(context.Background(), "")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestBuildLLMProvider_NoopAnswers(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) { cfg.LLM.Provider = "noop" })

	p, err := a.buildLLMProvider(context.Background(), "")
	require.NoError(t, err)

	resp, err := p.GetResponse(context.Background(), []ragchat.LLMMessage{{Role: ragchat.UserRole, Text: "hi"}}, ragchat.DefaultConfig)
	require.NoError(t, err)
	assert.Equal(t, "Default NoOps response", resp.Text)
}

func TestBuildSessionStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(cfg *config.SessionConfig)
		want    interface{}
		wantErr bool
	}{
		{
			name:   "memory",
			mutate: func(cfg *config.SessionConfig) { cfg.Backend = "memory" },
			want:   &ragchat.InMemorySessionStore{},
		},
		{
			name: "sqlite",
			mutate: func(cfg *config.SessionConfig) {
				cfg.Backend = "sqlite"
				cfg.Path = filepath.Join(dir, "sessions.db")
			},
			want: &ragchat.SQLSessionStore{},
		},
		{
			name: "badger",
			mutate: func(cfg *config.SessionConfig) {
				cfg.Backend = "badger"
				cfg.Path = filepath.Join(dir, "badger")
			},
			want: &ragchat.BadgerSessionStore{},
		},
		{
			name:    "unknown",
			mutate:  func(cfg *config.SessionConfig) { cfg.Backend = "redis" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t, func(cfg *config.Config) { tt.mutate(&cfg.Session) })

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, err := a.buildSessionStore(ctx)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, store)

			require.NoError(t, store.AppendTurn(ctx, "s1", "q", "a"))
			history, err := store.GetHistory(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, "a", history[0].Answer)
		})
	}
}

func TestBuildDocumentWriter(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Retriever.SupabaseURL = "http://localhost:54321"
		cfg.Retriever.SupabaseAPIKey = "key"
	})

	writer, pg, err := a.buildDocumentWriter(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &ragchat.SupabaseDocumentWriter{}, writer)
	assert.Nil(t, pg)
}

func TestBuildService_RewriteModelGetsOwnProvider(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.LLM.Provider = "noop"
		cfg.LLM.RewriteModel = "small-model"
		cfg.Retriever.SupabaseURL = "http://localhost:54321"
		cfg.Retriever.SupabaseAPIKey = "key"
		cfg.Embedding.APIKey = "key"
	})

	service, err := a.buildService(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, service)
}

func TestApp_CloseRunsInReverseOrder(t *testing.T) {
	a := newTestApp(t, nil)

	var order []int
	a.onClose(func() error { order = append(order, 1); return nil })
	a.onClose(func() error { order = append(order, 2); return nil })

	require.NoError(t, a.Close())
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, a.Close(), "second close is a no-op")
}
