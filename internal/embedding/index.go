package embedding

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/scrypster/filmqa/pkg/types"
)

// Neighbor is one nearest-neighbour hit.
type Neighbor struct {
	ID    types.EntityID
	Row   int
	Score float64 // cosine similarity
}

// Index answers cosine nearest-neighbour queries over a table's mapped rows.
type Index interface {
	// Nearest returns up to k rows ordered by non-increasing score. Equal
	// scores keep table order.
	Nearest(ctx context.Context, query []float32, k int) ([]Neighbor, error)
}

// MemoryIndex scans pre-normalised rows in memory.
type MemoryIndex struct {
	dim  int
	rows []int
	ids  []types.EntityID
	unit []float32
}

// NewMemoryIndex normalises every mapped row of t once.
func NewMemoryIndex(t *Table) *MemoryIndex {
	idx := &MemoryIndex{dim: t.Dim()}
	for i := 0; i < t.Len(); i++ {
		id, ok := t.ID(i)
		if !ok {
			continue
		}
		idx.rows = append(idx.rows, i)
		idx.ids = append(idx.ids, id)
		idx.unit = append(idx.unit, Normalize(t.Row(i))...)
	}
	return idx
}

// Nearest implements Index.
func (m *MemoryIndex) Nearest(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), m.dim)
	}
	if k <= 0 || len(m.rows) == 0 {
		return nil, nil
	}

	q := Normalize(query)
	all := make([]Neighbor, len(m.rows))
	for i := range m.rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		all[i] = Neighbor{
			ID:    m.ids[i],
			Row:   m.rows[i],
			Score: Dot(q, m.unit[i*m.dim:(i+1)*m.dim]),
		}
	}

	slices.SortStableFunc(all, func(a, b Neighbor) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// Len returns the number of indexed rows.
func (m *MemoryIndex) Len() int {
	return len(m.rows)
}
