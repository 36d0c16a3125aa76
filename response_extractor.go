package ragchat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// JSONExtractor decodes a JSON payload from model output into Target. Output
// wrapped in a markdown code fence is unwrapped first.
type JSONExtractor struct {
	Target interface{}
}

// NewJSONExtractor returns an extractor decoding into target, which must be a pointer.
func NewJSONExtractor(target interface{}) *JSONExtractor {
	return &JSONExtractor{Target: target}
}

// Extract decodes response.Text into e.Target.
func (e *JSONExtractor) Extract(response LLMResponse) error {
	payload := unwrapCodeFence(response.Text)
	if err := json.Unmarshal([]byte(payload), e.Target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// unwrapCodeFence returns the body of the first fenced block in text, or the
// trimmed text when there is none.
func unwrapCodeFence(text string) string {
	if m := fencedBlockPattern.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
