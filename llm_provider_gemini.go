package ragchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/shaharia-lab/ragchat/observability"
)

// GeminiRole is the author of a message in a Gemini chat history.
type GeminiRole = string

// Roles accepted in a Gemini chat history. System messages become the
// system instruction instead.
const (
	// GeminiRoleUser marks user messages.
	GeminiRoleUser GeminiRole = "user"
	// GeminiRoleModel marks model replies.
	GeminiRoleModel GeminiRole = "model"
)

// GeminiProvider implements the LLMProvider interface on top of a GeminiModelService.
type GeminiProvider struct {
	service GeminiModelService
	log     observability.Logger
}

// NewGeminiProvider creates a provider backed by service. A nil logger discards output.
func NewGeminiProvider(service GeminiModelService, log observability.Logger) (*GeminiProvider, error) {
	if service == nil {
		return nil, errors.New("GeminiModelService cannot be nil")
	}
	if log == nil {
		log = observability.NewNullLogger()
	}
	return &GeminiProvider{
		service: service,
		log:     log,
	}, nil
}

// GetResponse sends the last user message and replays everything before it as chat history.
func (p *GeminiProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	genaiConfig, err := mapLLMConfigToGenaiConfig(config)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("failed to map request config: %w", err)
	}

	system, history, err := p.mapLLMMessagesToGenaiContent(messages)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("failed to map messages: %w", err)
	}
	if len(history) == 0 {
		return LLMResponse{}, errors.New("cannot start LLM conversation with empty initial message")
	}

	last := history[len(history)-1]
	if last.Role != GeminiRoleUser {
		return LLMResponse{}, errors.New("conversation must end with a user message")
	}

	session := p.service.StartChat(genaiConfig, system, history[:len(history)-1])
	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("gemini SendMessage failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return LLMResponse{}, fmt.Errorf("request blocked by API: %s", resp.PromptFeedback.BlockReason.String())
		}
		return LLMResponse{}, errors.New("gemini API returned no candidates")
	}

	llmResponse := LLMResponse{
		Text:           extractTextFromParts(resp.Candidates[0].Content.Parts),
		CompletionTime: time.Since(startTime).Seconds(),
	}
	if resp.UsageMetadata != nil {
		llmResponse.TotalInputToken = int(resp.UsageMetadata.PromptTokenCount)
		llmResponse.TotalOutputToken = int(resp.UsageMetadata.CandidatesTokenCount)
	} else {
		p.log.Debug("gemini response carried no usage metadata")
	}
	return llmResponse, nil
}

// mapLLMMessagesToGenaiContent splits system messages into a system
// instruction and merges consecutive messages of the same role.
func (p *GeminiProvider) mapLLMMessagesToGenaiContent(messages []LLMMessage) (*genai.Content, []*genai.Content, error) {
	var systemParts []genai.Part
	genaiMessages := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		var role GeminiRole
		switch msg.Role {
		case UserRole:
			role = GeminiRoleUser
		case AssistantRole:
			role = GeminiRoleModel
		case SystemRole:
			systemParts = append(systemParts, genai.Text(msg.Text))
			continue
		default:
			return nil, nil, fmt.Errorf("unsupported LLMMessageRole: %s", msg.Role)
		}

		if n := len(genaiMessages); n > 0 && genaiMessages[n-1].Role == role {
			genaiMessages[n-1].Parts = append(genaiMessages[n-1].Parts, genai.Text(msg.Text))
			continue
		}
		genaiMessages = append(genaiMessages, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Text)}})
	}

	if len(genaiMessages) > 0 && genaiMessages[0].Role == GeminiRoleModel {
		return nil, nil, errors.New("conversation history cannot start with an assistant/model message")
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return system, genaiMessages, nil
}

func mapLLMConfigToGenaiConfig(config LLMRequestConfig) (*genai.GenerationConfig, error) {
	genaiConfig := &genai.GenerationConfig{}
	if config.MaxToken > 0 {
		if config.MaxToken > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("MaxToken %d exceeds int32 limit", config.MaxToken)
		}
		maxTokens := int32(config.MaxToken)
		genaiConfig.MaxOutputTokens = &maxTokens
	}
	if config.Temperature >= 0 {
		temp := float32(config.Temperature)
		genaiConfig.Temperature = &temp
	}
	if config.TopP > 0 {
		topP := float32(config.TopP)
		genaiConfig.TopP = &topP
	}
	if config.TopK > 0 {
		if config.TopK > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("TopK %d exceeds int32 limit", config.TopK)
		}
		topK := int32(config.TopK)
		genaiConfig.TopK = &topK
	}
	return genaiConfig, nil
}

func extractTextFromParts(parts []genai.Part) string {
	var b strings.Builder
	for _, part := range parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
