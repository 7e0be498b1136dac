package engine

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/scrypster/filmqa/internal/graph"
	"github.com/scrypster/filmqa/pkg/types"
)

// NoResults is the text rendered for empty or failed structured queries.
const NoResults = "No results found."

// The label match compares ASCII-folded strings; lower() in SQLite does not
// fold other scripts.
const (
	entityAttributeQuery = `
SELECT tl.object
FROM triples l
JOIN triples a  ON a.subject = l.subject AND a.predicate = ? AND a.kind = ?
JOIN triples tl ON tl.subject = a.object AND tl.predicate = ? AND tl.kind = ? AND lower(tl.lang) = ?
WHERE l.predicate = ? AND l.kind = ? AND lower(l.lang) = ? AND lower(l.object) = lower(?)
ORDER BY a.rowid, tl.rowid`

	literalAttributeQuery = `
SELECT a.object
FROM triples l
JOIN triples a ON a.subject = l.subject AND a.predicate = ? AND a.kind = ?
WHERE l.predicate = ? AND l.kind = ? AND lower(l.lang) = ? AND lower(l.object) = lower(?)
  AND (a.lang = '' OR lower(a.lang) = ?)
ORDER BY a.rowid`
)

// QueryExecutor answers attribute questions with structured queries over
// the graph store. Failures are logged and reported as no results.
type QueryExecutor struct {
	store *graph.Store
	vocab graph.Vocabulary
}

// NewQueryExecutor creates an executor over store.
func NewQueryExecutor(store *graph.Store, vocab graph.Vocabulary) *QueryExecutor {
	return &QueryExecutor{store: store, vocab: vocab}
}

// QueryAttribute returns the values of intent's attribute for every node
// whose label equals label ignoring case. Entity-valued attributes return
// the target's label in the configured language. Values are de-duplicated
// case-sensitively in result order.
func (q *QueryExecutor) QueryAttribute(ctx context.Context, label string, intent types.Intent) []string {
	predicate, ok := q.vocab.AttributePredicate(intent)
	if !ok {
		return nil
	}
	lang := strings.ToLower(q.vocab.LabelLanguage)

	var (
		rows []graph.Row
		err  error
	)
	if q.vocab.TargetIsEntity(intent) {
		rows, err = q.store.Query(ctx, entityAttributeQuery,
			predicate, graph.KindIRI,
			q.vocab.Label, graph.KindLiteral, lang,
			q.vocab.Label, graph.KindLiteral, lang, label)
	} else {
		rows, err = q.store.Query(ctx, literalAttributeQuery,
			predicate, graph.KindLiteral,
			q.vocab.Label, graph.KindLiteral, lang, label, lang)
	}
	if err != nil {
		log.Printf("engine: %s query for %q failed: %v", intent, label, err)
		return nil
	}
	return firstColumn(rows)
}

// Describe returns the descriptions of the nodes labelled label.
func (q *QueryExecutor) Describe(ctx context.Context, label string) []string {
	lang := strings.ToLower(q.vocab.LabelLanguage)
	rows, err := q.store.Query(ctx, literalAttributeQuery,
		q.vocab.Description, graph.KindLiteral,
		q.vocab.Label, graph.KindLiteral, lang, label, lang)
	if err != nil {
		log.Printf("engine: description query for %q failed: %v", label, err)
		return nil
	}
	return firstColumn(rows)
}

// Accepts reports whether text is a query rather than a question that
// happens to start with a query keyword. Text the store compiles is a query,
// and so is text it rejects outright, such as a write statement or an
// undefined prefix. Text the query engine cannot parse is not.
func (q *QueryExecutor) Accepts(ctx context.Context, text string) bool {
	err := q.store.Check(ctx, strings.TrimSpace(text))
	return err == nil || errors.Is(err, graph.ErrInvalidQuery)
}

// Run executes a user supplied structured query and renders the rows as
// comma-joined values, one row per line. Errors and empty results render
// NoResults.
func (q *QueryExecutor) Run(ctx context.Context, text string) (string, int, error) {
	rows, err := q.store.Query(ctx, text)
	if err != nil {
		if errors.Is(err, graph.ErrInvalidQuery) {
			log.Printf("engine: rejected query: %v", err)
		} else {
			log.Printf("engine: query failed: %v", err)
		}
		return NoResults, 0, err
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, ", "))
	}
	if len(lines) == 0 {
		return NoResults, 0, nil
	}
	return strings.Join(lines, "\n"), len(rows), nil
}

func firstColumn(rows []graph.Row) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			values = append(values, row[0])
		}
	}
	return uniqueValues(values)
}

// uniqueValues drops repeated values, keeping the first occurrence.
func uniqueValues(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
