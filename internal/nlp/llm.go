package nlp

import (
	"context"
	"fmt"
	"log"

	"github.com/scrypster/filmqa/internal/llm"
)

// LLMAnalyzer extracts entities with a language model and delegates tagging
// to a local analyzer. When the model fails or answers with malformed JSON
// the local analyzer's entities are used instead.
type LLMAnalyzer struct {
	gen      llm.TextGenerator
	fallback Analyzer
	logger   *log.Logger
}

// NewLLMAnalyzer wraps gen. fallback must not be nil.
func NewLLMAnalyzer(gen llm.TextGenerator, fallback Analyzer, logger *log.Logger) *LLMAnalyzer {
	if logger == nil {
		logger = log.Default()
	}
	return &LLMAnalyzer{gen: gen, fallback: fallback, logger: logger}
}

// Breaker returns the circuit breaker of the wrapped generator, or nil when
// it has none.
func (a *LLMAnalyzer) Breaker() *llm.CircuitBreaker {
	if g, ok := a.gen.(llm.Guarded); ok {
		return g.Breaker()
	}
	return nil
}

// ExtractEntities implements Analyzer.
func (a *LLMAnalyzer) ExtractEntities(ctx context.Context, text string) ([]EntitySpan, error) {
	spans, err := a.extract(ctx, text)
	if err == nil {
		return spans, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.logger.Printf("nlp: %s extraction failed, using local model: %v", a.gen.GetModel(), err)
	return a.fallback.ExtractEntities(ctx, text)
}

func (a *LLMAnalyzer) extract(ctx context.Context, text string) ([]EntitySpan, error) {
	raw, err := a.gen.Complete(ctx, llm.EntitySpanPrompt(text))
	if err != nil {
		return nil, err
	}
	parsed, err := llm.ParseEntitySpanResponse(raw)
	if err != nil {
		return nil, err
	}

	spans := make([]EntitySpan, 0, len(parsed))
	for _, p := range parsed {
		cat, ok := ParseCategory(p.Category)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", p.Category)
		}
		spans = append(spans, EntitySpan{Text: p.Text, Category: cat})
	}
	return spans, nil
}

// Tag implements Analyzer.
func (a *LLMAnalyzer) Tag(ctx context.Context, text string) ([]Token, error) {
	return a.fallback.Tag(ctx, text)
}

var _ Analyzer = (*LLMAnalyzer)(nil)
