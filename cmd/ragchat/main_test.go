package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend stands in for the embeddings API and the Supabase REST API.
type fakeBackend struct {
	mu           sync.Mutex
	matchCalls   int
	insertedRows int
	lastQuery    []float32
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{"object": "embedding", "index": i, "embedding": []float32{0.1, 0.2, 0.3}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data, "model": "test"})
	})
	mux.HandleFunc("/rest/v1/rpc/match_documents", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QueryEmbedding []float32 `json:"query_embedding"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		b.matchCalls++
		b.lastQuery = req.QueryEmbedding
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":1,"content":"Scrimba is an interactive coding school.","similarity":0.92}]`)
	})
	mux.HandleFunc("/rest/v1/documents", func(w http.ResponseWriter, r *http.Request) {
		var rows []map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.insertedRows += len(rows)
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func writeTestConfig(t *testing.T, backendURL string) string {
	t.Helper()
	t.Setenv("SUPABASE_URL_CHAT_BOT", "")
	t.Setenv("SUPABASE_API_KEY", "")
	t.Setenv("PORT", "")

	path := filepath.Join(t.TempDir(), "ragchat.yaml")
	content := fmt.Sprintf(`log:
  driver: "null"
llm:
  provider: noop
embedding:
  provider: openai
  model: text-embedding-3-small
  base_url: %[1]s
  api_key: test-key
retriever:
  backend: supabase
  supabase_url: %[1]s
  supabase_api_key: test-key
session:
  backend: memory
`, backendURL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestAsk_SingleQuestion(t *testing.T) {
	backend, srv := newFakeBackend(t)
	cfgPath := writeTestConfig(t, srv.URL)

	out, err := runCLI(t, "", "--config", cfgPath, "ask", "What", "is", "Scrimba?")
	require.NoError(t, err)

	assert.Equal(t, "Default NoOps response\n", out)
	assert.Equal(t, 1, backend.matchCalls)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, backend.lastQuery)
}

func TestAsk_REPL(t *testing.T) {
	backend, srv := newFakeBackend(t)
	cfgPath := writeTestConfig(t, srv.URL)

	stdin := "What is Scrimba?\n\n/clear\nAnd again?\n/exit\nnever asked\n"
	out, err := runCLI(t, stdin, "--config", cfgPath, "ask", "--session", "repl-session")
	require.NoError(t, err)

	assert.Contains(t, out, "Session repl-session.")
	assert.Equal(t, 2, strings.Count(out, "Default NoOps response"))
	assert.Contains(t, out, "Conversation cleared.")
	assert.Equal(t, 2, backend.matchCalls)
}

func TestAsk_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: mystery\n"), 0o600))

	_, err := runCLI(t, "", "--config", path, "ask", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestIngest_Supabase(t *testing.T) {
	backend, srv := newFakeBackend(t)
	cfgPath := writeTestConfig(t, srv.URL)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faq.md"), []byte("Scrimba teaches coding.\n\nCourses are interactive."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 0x50}, 0o600))

	out, err := runCLI(t, "", "--config", cfgPath, "ingest", "--chunk-size", "30", "--chunk-overlap", "0", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "faq.md")
	assert.NotContains(t, out, "logo.png")
	assert.Contains(t, out, "from 1 files")
	assert.Greater(t, backend.insertedRows, 0)
}

func TestIngest_Rejections(t *testing.T) {
	_, srv := newFakeBackend(t)
	cfgPath := writeTestConfig(t, srv.URL)

	file := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(file, []byte("content"), 0o600))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown chunker", args: []string{"--chunker", "semantic", file}, wantErr: "unknown chunker"},
		{name: "schema needs pgvector", args: []string{"--init-schema", file}, wantErr: "requires the pgvector"},
		{name: "missing path", args: []string{filepath.Join(t.TempDir(), "missing.txt")}, wantErr: "no such file"},
		{name: "empty directory", args: []string{t.TempDir()}, wantErr: "no .txt or .md files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfgPath, "ingest"}, tt.args...)
			_, err := runCLI(t, "", args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCollectIngestFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	for _, name := range []string{"a.md", "nested/b.TXT", "nested/c.json", ".git/d.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	explicit := filepath.Join(dir, "nested", "c.json")

	files, err := collectIngestFiles([]string{dir, explicit})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "nested", "b.TXT"),
		explicit,
	}, files)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "ragchat.yaml")

	out, err := runCLI(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "match_function: match_documents")

	_, err = runCLI(t, "", "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runCLI(t, "", "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestConfigValidate(t *testing.T) {
	_, srv := newFakeBackend(t)
	cfgPath := writeTestConfig(t, srv.URL)

	out, err := runCLI(t, "", "config", "validate", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid.")

	out, err = runCLI(t, "", "--config", cfgPath, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid.")
}
