package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	Model   string        // default: claude-haiku-4-5-20251001
	BaseURL string        // default: https://api.anthropic.com
	Timeout time.Duration // default: 60s
}

// AnthropicClient extracts entity spans with the Anthropic Messages API.
type AnthropicClient struct {
	cfg     AnthropicConfig
	client  *http.Client
	header  http.Header
	breaker *CircuitBreaker
}

// NewAnthropicClient creates a new Anthropic client with the given configuration.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	header := http.Header{}
	header.Set("x-api-key", cfg.APIKey)
	header.Set("anthropic-version", "2023-06-01")

	return &AnthropicClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		header:  header,
		breaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: "anthropic"}),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete sends the prompt as a single user turn and returns the text blocks
// of the reply. Span lists are short; a reply cut at max_tokens is an error.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		var resp anthropicResponse
		err := doJSON(ctx, c.client, "anthropic", http.MethodPost, c.cfg.BaseURL+"/v1/messages", c.header,
			anthropicRequest{
				Model:     c.cfg.Model,
				System:    ExtractionSystemPrompt,
				MaxTokens: 512,
				Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
			}, &resp)
		if err != nil {
			return nil, err
		}
		if resp.StopReason == "max_tokens" {
			return nil, errors.New("anthropic: reply truncated at max_tokens")
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" || block.Type == "" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return nil, errors.New("anthropic: empty reply")
		}
		return sb.String(), nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("anthropic circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}

// Breaker returns the circuit breaker guarding the client.
func (c *AnthropicClient) Breaker() *CircuitBreaker {
	return c.breaker
}

var _ TextGenerator = (*AnthropicClient)(nil)
