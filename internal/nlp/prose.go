package nlp

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jdkato/prose/v2"
)

// ProseAnalyzer runs the prose tokenizer, averaged-perceptron tagger and
// NER model locally. prose only recognises PERSON and GPE entities, so
// resolution of titles relies on the tagging path.
type ProseAnalyzer struct{}

// NewProseAnalyzer loads the prose models by analysing a warm-up sentence,
// so the first question does not pay the start-up cost.
func NewProseAnalyzer() (*ProseAnalyzer, error) {
	start := time.Now()
	if _, err := prose.NewDocument("Who directed the film?"); err != nil {
		return nil, fmt.Errorf("nlp: failed to initialise prose: %w", err)
	}
	log.Printf("nlp: prose models ready in %s", time.Since(start).Round(time.Millisecond))
	return &ProseAnalyzer{}, nil
}

// ExtractEntities implements Analyzer.
func (p *ProseAnalyzer) ExtractEntities(ctx context.Context, text string) ([]EntitySpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("nlp: prose: %w", err)
	}

	var spans []EntitySpan
	for _, ent := range doc.Entities() {
		cat, ok := ParseCategory(ent.Label)
		if !ok {
			continue
		}
		spans = append(spans, EntitySpan{Text: ent.Text, Category: cat})
	}
	return spans, ctx.Err()
}

// Tag implements Analyzer.
func (p *ProseAnalyzer) Tag(ctx context.Context, text string) ([]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil, fmt.Errorf("nlp: prose: %w", err)
	}

	toks := doc.Tokens()
	out := make([]Token, len(toks))
	for i, tok := range toks {
		out[i] = Token{Text: tok.Text, Tag: tok.Tag}
	}
	return out, ctx.Err()
}

var _ Analyzer = (*ProseAnalyzer)(nil)
