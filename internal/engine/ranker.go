package engine

import (
	"context"
	"log"

	"github.com/scrypster/filmqa/internal/embedding"
	"github.com/scrypster/filmqa/internal/fuzzy"
	"github.com/scrypster/filmqa/internal/graph"
	"github.com/scrypster/filmqa/pkg/types"
)

// Ranker finds the entities whose embeddings are closest to a given
// entity's embedding.
type Ranker struct {
	table    *embedding.Table
	index    embedding.Index
	labels   *graph.LabelIndex
	resolver *Resolver
	universe *fuzzy.Choices
}

// NewRanker creates a ranker. resolver and universe are used to resolve
// labels that are not in the label index verbatim; both may be nil.
func NewRanker(table *embedding.Table, index embedding.Index, labels *graph.LabelIndex, resolver *Resolver, universe *fuzzy.Choices) *Ranker {
	return &Ranker{
		table:    table,
		index:    index,
		labels:   labels,
		resolver: resolver,
		universe: universe,
	}
}

// Vector returns the embedding of the entity labelled label.
func (r *Ranker) Vector(ctx context.Context, label string) (types.EntityID, []float32, bool) {
	id, ok := r.lookup(ctx, label)
	if !ok {
		return "", nil, false
	}
	vec, ok := r.table.Vector(id)
	return id, vec, ok
}

// entityVector returns the embedding of a resolved entity. Its identifier is
// authoritative when known; the label is only looked up when it is not.
func (r *Ranker) entityVector(ctx context.Context, e types.ResolvedEntity) (types.EntityID, []float32, bool) {
	if e.ID == "" {
		return r.Vector(ctx, e.Label)
	}
	vec, ok := r.table.Vector(e.ID)
	return e.ID, vec, ok
}

func (r *Ranker) lookup(ctx context.Context, label string) (types.EntityID, bool) {
	if id, ok := r.labels.IDFor(label); ok {
		return id, true
	}
	if r.resolver == nil {
		return "", false
	}
	match, _, ok := r.resolver.Match(ctx, label, r.universe)
	if !ok {
		return "", false
	}
	return r.labels.IDFor(match)
}

// TopSimilar returns at most k entities ranked by cosine similarity to the
// entity labelled label, best first.
func (r *Ranker) TopSimilar(ctx context.Context, label string, k int) []types.SimilarEntity {
	return r.TopSimilarTo(ctx, types.ResolvedEntity{Label: label}, k)
}

// TopSimilarTo is TopSimilar for a resolved entity. The entity itself and
// rows whose vector equals its vector are never returned. Equal scores keep
// table order.
func (r *Ranker) TopSimilarTo(ctx context.Context, e types.ResolvedEntity, k int) []types.SimilarEntity {
	if k <= 0 {
		return nil
	}
	self, query, ok := r.entityVector(ctx, e)
	if !ok {
		return nil
	}
	return r.nearest(ctx, query, k, func(h embedding.Neighbor) bool {
		return h.ID == self || embedding.Equal(r.table.Row(h.Row), query)
	})
}

// nearest asks the index for more rows until k survive skip or the index
// is exhausted.
func (r *Ranker) nearest(ctx context.Context, query []float32, k int, skip func(h embedding.Neighbor) bool) []types.SimilarEntity {
	want := k + 1
	for {
		hits, err := r.index.Nearest(ctx, query, want)
		if err != nil {
			log.Printf("engine: similarity search failed: %v", err)
			return nil
		}

		out := make([]types.SimilarEntity, 0, k)
		for _, h := range hits {
			if skip(h) {
				continue
			}
			label, ok := r.labels.Label(h.ID)
			if !ok {
				label = h.ID.String()
			}
			out = append(out, types.SimilarEntity{ID: h.ID, Label: label, Score: h.Score})
			if len(out) == k {
				return out
			}
		}
		if len(hits) < want {
			return out
		}
		want *= 2
	}
}
