package ragchat

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunking defaults used by the ingestion command.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// DefaultSeparators are tried in order, from paragraph breaks down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// ChunkingProvider defines the interface for services that can split text into chunks.
type ChunkingProvider interface {
	// Chunk splits the input text into coherent segments.
	Chunk(ctx context.Context, text string) ([]string, error)
}

// RecursiveChunker splits text on a separator hierarchy with a fixed chunk size and overlap.
type RecursiveChunker struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveChunker creates a chunker. Non-positive size or negative overlap use the defaults.
func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	return &RecursiveChunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(DefaultSeparators),
		),
	}
}

// Chunk implements ChunkingProvider. Blank chunks are dropped.
func (c *RecursiveChunker) Chunk(_ context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}

	chunks, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	out := chunks[:0]
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// ChunkingByLLMProvider asks a language model for chunk boundaries.
type ChunkingByLLMProvider struct {
	llm *LLMRequest
}

// NewChunkingByLLMProvider creates a new ChunkingByLLMProvider with the specified LLM request client.
func NewChunkingByLLMProvider(llm *LLMRequest) *ChunkingByLLMProvider {
	return &ChunkingByLLMProvider{
		llm: llm,
	}
}

const chunkingPromptTemplate = `Divide the support document below into chunks for embedding and semantic search. Each chunk should:
- keep complete sentences and paragraphs together
- stay under {{.max_chars}} characters

Document:
{{.text}}

Return ONLY a JSON array of [start, end] character offsets, for example:
[[0, 480], [430, 910]]`

// Offset represents a text chunk's starting and ending positions in the original text.
type Offset struct {
	Start int
	End   int
}

func parseOffsets(response string) ([]Offset, error) {
	var raw [][]int
	if err := NewJSONExtractor(&raw).Extract(LLMResponse{Text: response}); err != nil {
		return nil, fmt.Errorf("failed to parse offsets: %w", err)
	}

	offsets := make([]Offset, 0, len(raw))
	for i, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid offset pair at index %d", i)
		}
		offsets = append(offsets, Offset{Start: pair[0], End: pair[1]})
	}
	return offsets, nil
}

// Chunk implements ChunkingProvider.
func (p *ChunkingByLLMProvider) Chunk(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}

	prompt := &LLMPromptTemplate{
		Template: chunkingPromptTemplate,
		Data: map[string]interface{}{
			"text":      text,
			"max_chars": DefaultChunkSize,
		},
	}

	resp, err := p.llm.GeneratePrompt(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate chunks: %w", err)
	}

	offsets, err := parseOffsets(resp.Text)
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(offsets))
	for _, o := range offsets {
		if o.Start < 0 || o.Start >= len(text) || o.End > len(text) || o.Start >= o.End {
			return nil, fmt.Errorf("invalid offset range [%d, %d] for text length %d", o.Start, o.End, len(text))
		}
		chunks = append(chunks, text[o.Start:o.End])
	}
	return chunks, nil
}
