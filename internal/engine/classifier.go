package engine

import (
	"strings"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/pkg/types"
)

// Classifier maps a question to an Intent by keyword containment.
type Classifier struct {
	keywords map[types.Intent][]string
}

// NewClassifier builds a classifier from the configured keyword lists.
// Keywords are matched case-insensitively as substrings.
func NewClassifier(cfg config.IntentConfig) *Classifier {
	fold := func(words []string) []string {
		out := make([]string, 0, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				out = append(out, w)
			}
		}
		return out
	}
	return &Classifier{keywords: map[types.Intent][]string{
		types.IntentDirector:     fold(cfg.Director),
		types.IntentScreenwriter: fold(cfg.Screenwriter),
		types.IntentReleaseDate:  fold(cfg.ReleaseDate),
	}}
}

// Classify returns the first intent, in priority order Director,
// Screenwriter, ReleaseDate, with a keyword contained in utterance.
// A question naming both a director and a writer is a Director question.
func (c *Classifier) Classify(utterance string) types.Intent {
	text := strings.ToLower(utterance)
	for _, intent := range types.Intents {
		for _, kw := range c.keywords[intent] {
			if strings.Contains(text, kw) {
				return intent
			}
		}
	}
	return types.IntentNone
}
