// Package engine implements question answering over the film knowledge
// graph: entity resolution, intent classification, attribute queries,
// embedding similarity and answer composition.
package engine

import (
	"context"
	"strings"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/embedding"
	"github.com/scrypster/filmqa/internal/fuzzy"
	"github.com/scrypster/filmqa/internal/graph"
	"github.com/scrypster/filmqa/internal/nlp"
)

// Components are the loaded resources a Pipeline is built from.
type Components struct {
	Store      *graph.Store
	Labels     *graph.LabelIndex
	Vocabulary graph.Vocabulary
	Analyzer   nlp.Analyzer

	// Entities and Index are required for similarity answers. Relations
	// is only needed for link prediction.
	Entities  *embedding.Table
	Relations *embedding.Table
	Index     embedding.Index

	Resolver       config.ResolverConfig
	Intent         config.IntentConfig
	TopK           int
	LinkPrediction bool
}

// Pipeline answers one utterance at a time. It holds no per-question state
// and may be shared.
type Pipeline struct {
	resolver   *Resolver
	classifier *Classifier
	executor   *QueryExecutor
	ranker     *Ranker
	predictor  *LinkPredictor
	composer   Composer
	universe   *fuzzy.Choices
	topK       int
}

// NewPipeline wires the components together. The label universe is every
// label of the label index.
func NewPipeline(c Components) *Pipeline {
	universe := fuzzy.NewChoices(c.Labels.Labels())
	resolver := NewResolver(c.Analyzer, c.Labels, c.Resolver)

	p := &Pipeline{
		resolver:   resolver,
		classifier: NewClassifier(c.Intent),
		executor:   NewQueryExecutor(c.Store, c.Vocabulary),
		universe:   universe,
		topK:       c.TopK,
	}
	if c.Entities != nil && c.Index != nil {
		p.ranker = NewRanker(c.Entities, c.Index, c.Labels, resolver, universe)
		if c.LinkPrediction && c.Relations != nil {
			p.predictor = NewLinkPredictor(p.ranker, c.Relations, c.Vocabulary)
		}
	}
	return p
}

// IsStructuredQuery reports whether text looks like a graph query: it starts
// with SELECT or PREFIX, or with WITH and contains a SELECT. Handle also
// requires the store to accept it.
func IsStructuredQuery(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "PREFIX":
		return true
	case "WITH":
		for _, f := range fields[1:] {
			if strings.EqualFold(strings.Trim(f, "()"), "SELECT") {
				return true
			}
		}
	}
	return false
}

// Handle answers text, running structured queries verbatim. Text that only
// starts like a query, such as "Select films like ...", is answered as a
// question.
func (p *Pipeline) Handle(ctx context.Context, text string) (string, *Trace) {
	if IsStructuredQuery(text) && p.executor.Accepts(ctx, text) {
		return p.Query(ctx, text)
	}
	return p.Answer(ctx, text)
}

// Query runs a structured query and renders its rows.
func (p *Pipeline) Query(ctx context.Context, text string) (string, *Trace) {
	trace := NewTrace()
	out, n, err := p.executor.Run(ctx, strings.TrimSpace(text))
	trace.add(EventRawQuery(text, n, err))
	return out, trace
}

// Answer runs the resolution pipeline for a natural language question.
func (p *Pipeline) Answer(ctx context.Context, utterance string) (string, *Trace) {
	trace := NewTrace()
	trace.add(EventQuestionReceived(utterance))

	res := p.resolver.Resolve(ctx, utterance, p.universe)
	trace.add(EventEntityResolved(res))

	intent := p.classifier.Classify(utterance)
	trace.add(EventIntentClassified(intent))

	a := Answer{Entity: res.Label, Resolved: res.Found(), Intent: intent}
	if a.Resolved {
		if intent.Symbolic() {
			a.Factual = p.executor.QueryAttribute(ctx, res.Label, intent)
			trace.add(EventFactsQueried("attribute", a.Factual))

			if len(a.Factual) == 0 {
				a.Descriptions = p.executor.Describe(ctx, res.Label)
				trace.add(EventFactsQueried("description", a.Descriptions))
				if label, ok := p.predictor.Predict(ctx, res, intent); ok {
					a.Prediction = label
				}
			}
		}
		if p.ranker != nil {
			a.Similar = p.ranker.TopSimilarTo(ctx, res, p.topK)
			trace.add(EventSimilarRanked(a.Similar))
		}
	}

	text := p.composer.Compose(a)
	trace.add(EventAnswerComposed(text))
	return text, trace
}
