package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/filmqa/pkg/types"
)

// LabelIndex maps entity identifiers to display labels and back. It is built
// once and never modified, so it may be shared between goroutines.
type LabelIndex struct {
	byID    map[types.EntityID]string
	byLabel map[string]types.EntityID
	first   map[string]types.EntityID
	byFold  map[string]types.EntityID
	labels  []string
}

// BuildLabelIndex scans the label triples in parse order. Only literals
// tagged with lang (or untagged literals) are indexed; an empty lang indexes
// every label.
//
// When one identifier carries several labels, Label returns the one parsed
// last. When several identifiers share a label, Lookup returns the one
// parsed last while IDFor and LookupFold return the one parsed first. All
// depend on the order of the source file.
func BuildLabelIndex(ctx context.Context, s *Store, predicate, lang string) (*LabelIndex, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, object, lang FROM triples
		 WHERE predicate = ? AND kind = ?
		 ORDER BY rowid`, predicate, KindLiteral)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to scan labels: %w", err)
	}
	defer rows.Close()

	idx := &LabelIndex{
		byID:    make(map[types.EntityID]string),
		byLabel: make(map[string]types.EntityID),
		first:   make(map[string]types.EntityID),
		byFold:  make(map[string]types.EntityID),
	}
	for rows.Next() {
		var subject, label, tag string
		if err := rows.Scan(&subject, &label, &tag); err != nil {
			return nil, fmt.Errorf("graph: failed to read label: %w", err)
		}
		if lang != "" && tag != "" && !strings.EqualFold(tag, lang) {
			continue
		}
		idx.add(types.EntityID(subject), label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("graph: failed to read labels: %w", err)
	}
	return idx, nil
}

// NewLabelIndex builds an index from pairs in the given order.
func NewLabelIndex(pairs []types.Entity) *LabelIndex {
	idx := &LabelIndex{
		byID:    make(map[types.EntityID]string, len(pairs)),
		byLabel: make(map[string]types.EntityID, len(pairs)),
		first:   make(map[string]types.EntityID, len(pairs)),
		byFold:  make(map[string]types.EntityID, len(pairs)),
	}
	for _, p := range pairs {
		idx.add(p.ID, p.Label)
	}
	return idx
}

func (idx *LabelIndex) add(id types.EntityID, label string) {
	if _, seen := idx.byLabel[label]; !seen {
		idx.labels = append(idx.labels, label)
		idx.first[label] = id
	}
	idx.byID[id] = label
	idx.byLabel[label] = id

	fold := strings.ToLower(label)
	if _, seen := idx.byFold[fold]; !seen {
		idx.byFold[fold] = id
	}
}

// Label returns the display label of id.
func (idx *LabelIndex) Label(id types.EntityID) (string, bool) {
	label, ok := idx.byID[id]
	return label, ok
}

// Lookup returns the identifier carrying exactly label.
func (idx *LabelIndex) Lookup(label string) (types.EntityID, bool) {
	id, ok := idx.byLabel[label]
	return id, ok
}

// LookupFold returns the identifier whose label equals label ignoring case.
func (idx *LabelIndex) LookupFold(label string) (types.EntityID, bool) {
	id, ok := idx.byFold[strings.ToLower(label)]
	return id, ok
}

// IDFor returns the identifier a mention of label refers to: the first one
// parsed with exactly label, otherwise the first whose label matches ignoring
// case.
func (idx *LabelIndex) IDFor(label string) (types.EntityID, bool) {
	if id, ok := idx.first[label]; ok {
		return id, true
	}
	return idx.LookupFold(label)
}

// Labels returns the distinct labels in first-seen order. The slice is shared
// and must not be modified.
func (idx *LabelIndex) Labels() []string {
	return idx.labels
}

// Len returns the number of labelled identifiers.
func (idx *LabelIndex) Len() int {
	return len(idx.byID)
}
