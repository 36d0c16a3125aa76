package ragchat

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/mock"
)

// MockBedrockClient is a testify mock for BedrockClient.
type MockBedrockClient struct {
	mock.Mock
}

func (m *MockBedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	args := m.Called(ctx, params)
	var out *bedrockruntime.ConverseOutput
	if args.Get(0) != nil {
		out = args.Get(0).(*bedrockruntime.ConverseOutput)
	}
	return out, args.Error(1)
}

func (m *MockBedrockClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	args := m.Called(ctx, params)
	var out *bedrockruntime.InvokeModelOutput
	if args.Get(0) != nil {
		out = args.Get(0).(*bedrockruntime.InvokeModelOutput)
	}
	return out, args.Error(1)
}

var _ BedrockClient = (*MockBedrockClient)(nil)
