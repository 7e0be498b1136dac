package engine

import (
	"fmt"
	"strings"

	"github.com/scrypster/filmqa/pkg/types"
)

// Fixed answer texts.
const (
	NoSimilarEntities = "No similar entities found."
	Unidentified      = `Sorry, I couldn't identify a movie in your question. Try putting the title in double quotes, e.g. "Inception".`
	NoDescription     = "No description available."
)

// Answer carries everything the composer needs for one reply.
type Answer struct {
	Entity       string
	Resolved     bool
	Intent       types.Intent
	Factual      []string
	Descriptions []string
	Prediction   string
	Similar      []types.SimilarEntity
}

// Composer renders answers as chat text.
type Composer struct{}

// Compose formats a. Sections are separated by a blank line.
func (Composer) Compose(a Answer) string {
	if !a.Resolved {
		return Unidentified
	}

	if !a.Intent.Symbolic() {
		if len(a.Similar) == 0 {
			return NoSimilarEntities
		}
		return similarityBlock(a.Entity, a.Similar)
	}

	var sections []string
	attr := a.Intent.Attribute()
	if values := uniqueValues(a.Factual); len(values) > 0 {
		sections = append(sections, fmt.Sprintf("Factual Answer: The %s of '%s' is %s.",
			attr, a.Entity, strings.Join(values, ", ")))
	} else {
		msg := fmt.Sprintf("Sorry, I couldn't find %s information for '%s'.", attr, a.Entity)
		if desc := uniqueValues(a.Descriptions); len(desc) > 0 {
			msg += " Here is a description instead: " + strings.Join(desc, "; ")
		} else {
			msg += " " + NoDescription
		}
		sections = append(sections, msg)

		if a.Prediction != "" {
			sections = append(sections, fmt.Sprintf("Embedding Answer: The %s of '%s' might be %s.",
				attr, a.Entity, a.Prediction))
		}
	}

	if len(a.Similar) > 0 {
		sections = append(sections, similarityBlock(a.Entity, a.Similar))
	}
	return strings.Join(sections, "\n\n")
}

func similarityBlock(entity string, similar []types.SimilarEntity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Similar to '%s':", entity)
	for i, s := range similar {
		fmt.Fprintf(&b, "\n%d. %s (Similarity: %.2f)", i+1, s.Label, s.Score)
	}
	return b.String()
}
