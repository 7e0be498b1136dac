package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name to use for completions (default: qwen2.5:7b)
	Model string

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration
}

// OllamaClient extracts entity spans with a local Ollama model. Output is
// constrained to JSON and sampled at temperature 0.
type OllamaClient struct {
	cfg     OllamaConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// NewOllamaClient creates a new Ollama client with the given configuration.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OllamaClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: "ollama"}),
	}
}

// generateRequest is the body of POST /api/generate.
type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type versionResponse struct {
	Version string `json:"version"`
}

// Complete runs one non-streaming generation.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		var resp generateResponse
		err := doJSON(ctx, c.client, "ollama", http.MethodPost, c.cfg.BaseURL+"/api/generate", nil,
			generateRequest{
				Model:   c.cfg.Model,
				System:  ExtractionSystemPrompt,
				Prompt:  prompt,
				Format:  "json",
				Options: map[string]any{"temperature": 0},
			}, &resp)
		if err != nil {
			return nil, err
		}
		if !resp.Done {
			return nil, errors.New("ollama: generation did not finish")
		}
		return resp.Response, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

// HealthCheck asks /api/version whether the server is up and returns its
// version. It bypasses the circuit breaker.
func (c *OllamaClient) HealthCheck(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp versionResponse
	if err := doJSON(ctx, c.client, "ollama", http.MethodGet, c.cfg.BaseURL+"/api/version", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("ollama health check: %w", err)
	}
	return resp.Version, nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.cfg.Model
}

// Breaker returns the circuit breaker guarding the client.
func (c *OllamaClient) Breaker() *CircuitBreaker {
	return c.breaker
}

var _ TextGenerator = (*OllamaClient)(nil)
