package ragchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestConfig(t *testing.T) {
	tests := []struct {
		name     string
		opts     []RequestOption
		expected LLMRequestConfig
	}{
		{
			name:     "no options - should use defaults",
			expected: DefaultConfig,
		},
		{
			name: "with single option",
			opts: []RequestOption{
				WithMaxToken(2000),
			},
			expected: LLMRequestConfig{
				MaxToken:    2000,
				TopP:        0.5,
				Temperature: 0.5,
				TopK:        40,
			},
		},
		{
			name: "with multiple options",
			opts: []RequestOption{
				WithMaxToken(2000),
				WithTopP(0.95),
				WithTemperature(0.8),
				WithTopK(100),
			},
			expected: LLMRequestConfig{
				MaxToken:    2000,
				TopP:        0.95,
				Temperature: 0.8,
				TopK:        100,
			},
		},
		{
			name: "with zero values - should override defaults",
			opts: []RequestOption{
				WithMaxToken(0),
				WithTopP(0),
				WithTemperature(0),
				WithTopK(0),
			},
			expected: LLMRequestConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewRequestConfig(tt.opts...))
		})
	}
}

func TestNewRequestConfig_DoesNotMutateDefaults(t *testing.T) {
	before := DefaultConfig
	_ = NewRequestConfig(WithMaxToken(1), WithTemperature(0.9))
	assert.Equal(t, before, DefaultConfig)
}

func TestLLMPromptTemplate_Parse(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]interface{}
		want     string
		wantErr  bool
	}{
		{
			name:     "renders fields",
			template: "Question: {{.Question}}",
			data:     map[string]interface{}{"Question": "What is Scrimba?"},
			want:     "Question: What is Scrimba?",
		},
		{
			name:     "missing key is an error",
			template: "Question: {{.Question}}",
			data:     map[string]interface{}{},
			wantErr:  true,
		},
		{
			name:     "invalid template",
			template: "{{.Question",
			data:     map[string]interface{}{"Question": "q"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &LLMPromptTemplate{Template: tt.template, Data: tt.data}
			got, err := p.Parse()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLLMError_Error(t *testing.T) {
	err := &LLMError{Code: 400, Message: "no choices in response"}
	assert.Equal(t, "LLM error 400: no choices in response", err.Error())
}
