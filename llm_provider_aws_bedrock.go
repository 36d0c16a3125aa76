package ragchat

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// DefaultBedrockChatModel is used when BedrockProviderConfig.Model is empty.
const DefaultBedrockChatModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// BedrockLLMProvider implements the LLMProvider interface using the Bedrock Converse API.
type BedrockLLMProvider struct {
	client BedrockClient
	model  string
}

// BedrockProviderConfig holds the configuration options for creating a Bedrock provider.
type BedrockProviderConfig struct {
	Client BedrockClient
	Model  string
}

// NewBedrockLLMProvider creates a new Bedrock provider with the specified configuration.
// If no model is specified, it defaults to Claude 3.5 Sonnet.
func NewBedrockLLMProvider(config BedrockProviderConfig) *BedrockLLMProvider {
	if config.Model == "" {
		config.Model = DefaultBedrockChatModel
	}

	return &BedrockLLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

func (p *BedrockLLMProvider) converseInput(messages []LLMMessage, config LLMRequestConfig) *bedrockruntime.ConverseInput {
	var system []types.SystemContentBlock
	var bedrockMessages []types.Message

	for _, msg := range messages {
		if msg.Role == SystemRole {
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Text})
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == AssistantRole {
			role = types.ConversationRoleAssistant
		}

		bedrockMessages = append(bedrockMessages, types.Message{
			Role: role,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{
					Value: msg.Text,
				},
			},
		})
	}

	return &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: bedrockMessages,
		System:   system,
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(config.Temperature)),
			TopP:        aws.Float32(float32(config.TopP)),
			MaxTokens:   aws.Int32(int32(config.MaxToken)),
		},
	}
}

// GetResponse generates a response using Bedrock's Converse API. System
// messages are sent through the system field.
func (p *BedrockLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	output, err := p.client.Converse(ctx, p.converseInput(messages, config))
	if err != nil {
		return LLMResponse{}, err
	}

	var responseText strings.Builder
	if msgOutput, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
				responseText.WriteString(textBlock.Value)
			}
		}
	}

	resp := LLMResponse{
		Text:           responseText.String(),
		CompletionTime: time.Since(startTime).Seconds(),
	}
	if output.Usage != nil {
		resp.TotalInputToken = int(aws.ToInt32(output.Usage.InputTokens))
		resp.TotalOutputToken = int(aws.ToInt32(output.Usage.OutputTokens))
	}
	return resp, nil
}
