// Package types defines the core data structures shared by the film
// question-answering pipeline: graph entities, resolution results, intents,
// similarity results and the per-room lifecycle stages.
package types

// EntityID is an opaque, URI-like identifier of a knowledge graph node,
// e.g. "http://www.wikidata.org/entity/Q25188".
type EntityID string

// String returns the identifier as a plain string.
func (id EntityID) String() string {
	return string(id)
}

// Entity is a node of the knowledge graph together with its canonical
// English label and the factual attributes the pipeline can answer about.
type Entity struct {
	ID    EntityID `json:"id"`
	Label string   `json:"label"`

	// Attributes maps an attribute name (see Intent.Attribute) to the
	// identifiers or literal values reachable through that edge.
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// SimilarEntity is one row of a similarity ranking.
type SimilarEntity struct {
	ID    EntityID `json:"id"`
	Label string   `json:"label"`
	Score float64  `json:"score"` // cosine similarity in [-1, 1]
}
