package engine

import (
	"context"
	"log"

	"github.com/scrypster/filmqa/internal/embedding"
	"github.com/scrypster/filmqa/internal/graph"
	"github.com/scrypster/filmqa/pkg/types"
)

// LinkPredictor guesses a missing entity-valued attribute as the entity
// nearest to head + relation in embedding space.
type LinkPredictor struct {
	ranker    *Ranker
	relations *embedding.Table
	vocab     graph.Vocabulary
}

// NewLinkPredictor creates a predictor. Relation rows are keyed by
// predicate IRI.
func NewLinkPredictor(ranker *Ranker, relations *embedding.Table, vocab graph.Vocabulary) *LinkPredictor {
	return &LinkPredictor{ranker: ranker, relations: relations, vocab: vocab}
}

// Predict returns the label of the most likely target of intent's edge from
// the entity e.
func (p *LinkPredictor) Predict(ctx context.Context, e types.ResolvedEntity, intent types.Intent) (string, bool) {
	if p == nil || p.relations == nil || !p.vocab.TargetIsEntity(intent) {
		return "", false
	}
	predicate, ok := p.vocab.AttributePredicate(intent)
	if !ok {
		return "", false
	}
	rel, ok := p.relations.Vector(types.EntityID(predicate))
	if !ok {
		return "", false
	}
	self, head, ok := p.ranker.entityVector(ctx, e)
	if !ok {
		return "", false
	}

	target, err := embedding.Add(head, rel)
	if err != nil {
		log.Printf("engine: link prediction for %q: %v", e.Label, err)
		return "", false
	}
	hits := p.ranker.nearest(ctx, target, 1, func(h embedding.Neighbor) bool {
		return h.ID == self || embedding.Equal(p.ranker.table.Row(h.Row), head)
	})
	if len(hits) == 0 {
		return "", false
	}
	return hits[0].Label, true
}
