// Package config loads ragchat settings from a YAML file overlaid with
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Session   SessionConfig   `yaml:"session"`
	Chain     ChainConfig     `yaml:"chain"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	StaticDir       string        `yaml:"static_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

type LogConfig struct {
	Driver string `yaml:"driver" validate:"oneof=logrus zap slog default null"`
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
}

type LLMConfig struct {
	Provider           string  `yaml:"provider" validate:"oneof=openai anthropic bedrock gemini noop"`
	Model              string  `yaml:"model"`
	RewriteModel       string  `yaml:"rewrite_model"`
	MaxTokens          int64   `yaml:"max_tokens" validate:"min=1"`
	Temperature        float64 `yaml:"temperature" validate:"min=0,max=2"`
	RewriteTemperature float64 `yaml:"rewrite_temperature" validate:"min=0,max=2"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst              int     `yaml:"burst" validate:"min=0"`
	OpenAIAPIKey       string  `yaml:"openai_api_key" validate:"required_if=Provider openai"`
	OpenAIBaseURL      string  `yaml:"openai_base_url" validate:"omitempty,url"`
	AnthropicAPIKey    string  `yaml:"anthropic_api_key" validate:"required_if=Provider anthropic"`
	GeminiAPIKey       string  `yaml:"gemini_api_key" validate:"required_if=Provider gemini"`
	AWSRegion          string  `yaml:"aws_region" validate:"required_if=Provider bedrock"`
}

type EmbeddingConfig struct {
	Provider string `yaml:"provider" validate:"oneof=openai bedrock"`
	Model    string `yaml:"model" validate:"required"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
	APIKey   string `yaml:"api_key" validate:"required_if=Provider openai"`
}

type RetrieverConfig struct {
	Backend        string `yaml:"backend" validate:"oneof=supabase pgvector"`
	SupabaseURL    string `yaml:"supabase_url" validate:"required_if=Backend supabase"`
	SupabaseAPIKey string `yaml:"supabase_api_key" validate:"required_if=Backend supabase"`
	DatabaseURL    string `yaml:"database_url" validate:"required_if=Backend pgvector"`
	MatchFunction  string `yaml:"match_function" validate:"required"`
	MatchCount     int    `yaml:"match_count" validate:"min=1,max=100"`
}

type SessionConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory sqlite postgres badger"`
	Path          string        `yaml:"path" validate:"required_if=Backend sqlite"`
	DatabaseURL   string        `yaml:"database_url" validate:"required_if=Backend postgres"`
	MaxTurns      int           `yaml:"max_turns" validate:"min=0"`
	MaxSessions   int           `yaml:"max_sessions" validate:"min=0"`
	TTL           time.Duration `yaml:"ttl" validate:"min=0"`
	PruneInterval time.Duration `yaml:"prune_interval" validate:"min=0"`
}

type ChainConfig struct {
	Subject     string        `yaml:"subject" validate:"required"`
	TurnTimeout time.Duration `yaml:"turn_timeout" validate:"min=0"`
}

// Default returns the configuration used when no file or environment overrides are given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Driver: "logrus",
			Level:  "info",
		},
		LLM: LLMConfig{
			Provider:           "openai",
			MaxTokens:          1000,
			Temperature:        0.5,
			RewriteTemperature: 0,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-ada-002",
		},
		Retriever: RetrieverConfig{
			Backend:       "supabase",
			MatchFunction: "match_documents",
			MatchCount:    4,
		},
		Session: SessionConfig{
			Backend:       "memory",
			MaxTurns:      20,
			MaxSessions:   10000,
			TTL:           time.Hour,
			PruneInterval: 5 * time.Minute,
		},
		Chain: ChainConfig{
			Subject:     "Scrimba",
			TurnTimeout: 60 * time.Second,
		},
	}
}

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads path (optional), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment source.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("OPENAI_API_KEY", &c.LLM.OpenAIAPIKey)
	set("ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	set("GEMINI_API_KEY", &c.LLM.GeminiAPIKey)
	set("AWS_REGION", &c.LLM.AWSRegion)
	set("SUPABASE_URL_CHAT_BOT", &c.Retriever.SupabaseURL)
	set("SUPABASE_API_KEY", &c.Retriever.SupabaseAPIKey)
	set("DATABASE_URL", &c.Retriever.DatabaseURL)

	// The embedding key falls back to the OpenAI chat key.
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.LLM.OpenAIAPIKey
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// WriteDefault writes the default configuration to path, creating parent directories.
// Secrets are left empty so they can come from the environment.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var validate = validator.New()

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}
