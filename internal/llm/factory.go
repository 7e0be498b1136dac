package llm

import (
	"fmt"

	"github.com/scrypster/filmqa/internal/config"
)

// NewTextGenerator creates the TextGenerator configured for entity extraction.
// The "prose" provider needs no generator and yields (nil, nil).
func NewTextGenerator(cfg config.NLPConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "prose", "":
		return nil, nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
