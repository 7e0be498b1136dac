// Package nlp provides the entity extraction and part-of-speech tagging
// capability used by entity resolution. Analyzers are constructed once and
// injected; none of them keep global state.
package nlp

import "context"

// Category is the named-entity class of a span.
type Category string

// Categories an Analyzer may report.
const (
	CategoryWorkOfArt Category = "WORK_OF_ART"
	CategoryOrg       Category = "ORG"
	CategoryEvent     Category = "EVENT"
	CategoryPerson    Category = "PERSON"
	CategoryGPE       Category = "GPE"
)

// ParseCategory maps a label to a known Category.
func ParseCategory(label string) (Category, bool) {
	switch c := Category(label); c {
	case CategoryWorkOfArt, CategoryOrg, CategoryEvent, CategoryPerson, CategoryGPE:
		return c, true
	default:
		return "", false
	}
}

// EntitySpan is a named entity found in text.
type EntitySpan struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

// Token is one word or punctuation mark with its Penn Treebank tag.
type Token struct {
	Text string `json:"text"`
	Tag  string `json:"tag"`
}

// Analyzer extracts entities and tags tokens.
type Analyzer interface {
	// ExtractEntities returns the named entities of text in order of appearance.
	ExtractEntities(ctx context.Context, text string) ([]EntitySpan, error)

	// Tag returns the tokens of text with their part-of-speech tags.
	Tag(ctx context.Context, text string) ([]Token, error)
}
