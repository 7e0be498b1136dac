package graph

import "github.com/scrypster/filmqa/pkg/types"

// Vocabulary names the predicates the query executor follows.
type Vocabulary struct {
	Label         string
	LabelLanguage string
	Director      string
	Screenwriter  string
	ReleaseDate   string
	Description   string
}

// DefaultVocabulary uses Wikidata direct properties and schema.org
// descriptions.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Label:         DefaultPrefixes["rdfs"] + "label",
		LabelLanguage: "en",
		Director:      DefaultPrefixes["wdt"] + "P57",
		Screenwriter:  DefaultPrefixes["wdt"] + "P58",
		ReleaseDate:   DefaultPrefixes["wdt"] + "P577",
		Description:   DefaultPrefixes["schema"] + "description",
	}
}

// AttributePredicate returns the edge followed for intent.
func (v Vocabulary) AttributePredicate(intent types.Intent) (string, bool) {
	switch intent {
	case types.IntentDirector:
		return v.Director, true
	case types.IntentScreenwriter:
		return v.Screenwriter, true
	case types.IntentReleaseDate:
		return v.ReleaseDate, true
	default:
		return "", false
	}
}

// TargetIsEntity reports whether the attribute points at another entity whose
// label is returned rather than at a literal.
func (v Vocabulary) TargetIsEntity(intent types.Intent) bool {
	return intent == types.IntentDirector || intent == types.IntentScreenwriter
}
