package ragchat

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type scriptedResponse struct {
	text string
	err  error
}

// scriptedLLM is an LLMProvider fake. It answers with fn when set, otherwise
// pops responses in order and repeats the last one once exhausted.
type scriptedLLM struct {
	mu        sync.Mutex
	fn        func(ctx context.Context, prompt string) (string, error)
	responses []scriptedResponse
	prompts   []string
	configs   []LLMRequestConfig
}

func (s *scriptedLLM) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Text
	}

	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.configs = append(s.configs, config)
	fn := s.fn
	var resp scriptedResponse
	if fn == nil && len(s.responses) > 0 {
		resp = s.responses[0]
		if len(s.responses) > 1 {
			s.responses = s.responses[1:]
		}
	}
	s.mu.Unlock()

	if fn != nil {
		text, err := fn(ctx, prompt)
		return LLMResponse{Text: text}, err
	}
	return LLMResponse{Text: resp.text}, resp.err
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedLLM) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

// fakeRetriever records queries and answers with fn.
type fakeRetriever struct {
	mu      sync.Mutex
	fn      func(ctx context.Context, query string) ([]Passage, error)
	queries []string
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()

	if r.fn == nil {
		return nil, nil
	}
	return r.fn(ctx, query)
}

func (r *fakeRetriever) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

func (r *fakeRetriever) lastQuery() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queries) == 0 {
		return ""
	}
	return r.queries[len(r.queries)-1]
}

func newTestTracerProvider(processor sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(processor))
}
