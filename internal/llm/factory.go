package llm

import (
	"fmt"
	"time"
)

// FactoryConfig holds the parameters needed to create a Client.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai" or "anthropic").
	Provider string
	// Temperature is the LLM temperature setting.
	Temperature float64
	// MaxTokens is the default response token limit (zero means provider default).
	MaxTokens int
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
}

// NewClient creates a chat Client based on the configuration.
// Supports "openai" and "anthropic" providers. Returns an error for
// unsupported or empty provider values.
func NewClient(cfg FactoryConfig) (Client, error) {
	opts := Options{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.OpenAI, opts), nil
	case "anthropic":
		return NewAnthropicClient(cfg.Anthropic, opts), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
