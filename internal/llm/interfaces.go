package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// Prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// Guarded is implemented by generators that sit behind a circuit breaker.
type Guarded interface {
	Breaker() *CircuitBreaker
}
