package types

// Confidence classifies how a ResolvedEntity was obtained.
type Confidence string

// Confidence constants
const (
	// ConfidenceExact means the candidate label is present in the label universe
	// (case-insensitive).
	ConfidenceExact Confidence = "exact"

	// ConfidenceFuzzy means the label was accepted by approximate matching.
	ConfidenceFuzzy Confidence = "fuzzy"

	// ConfidenceNone means no candidate survived the resolution cascade.
	ConfidenceNone Confidence = "none"
)

// ResolutionSource names the cascade step that produced the candidate label.
type ResolutionSource string

// Resolution cascade steps, in the order they are attempted.
const (
	SourceQuoted    ResolutionSource = "quoted"
	SourceNER       ResolutionSource = "ner"
	SourceHeuristic ResolutionSource = "heuristic"
	SourceFuzzy     ResolutionSource = "fuzzy"
	SourceNone      ResolutionSource = "none"
)

// ResolvedEntity is the output of entity resolution. It is never persisted.
type ResolvedEntity struct {
	// Label is the matched label. For exact matches this is the canonical
	// label from the label universe; for unmatched candidates it is the raw
	// candidate text.
	Label string `json:"label"`

	// ID is the graph identifier the label maps to, empty when the label
	// is not in the label index.
	ID EntityID `json:"id,omitempty"`

	// Confidence is exact, fuzzy or none.
	Confidence Confidence `json:"confidence"`

	// Source is the cascade step that produced the candidate.
	Source ResolutionSource `json:"source"`

	// Score is the fuzzy match score (0-100). Zero for non-fuzzy results.
	Score int `json:"score,omitempty"`
}

// Found reports whether resolution produced a usable label.
func (r ResolvedEntity) Found() bool {
	return r.Confidence != ConfidenceNone && r.Label != ""
}

// Unresolved is the zero-confidence resolution result.
func Unresolved() ResolvedEntity {
	return ResolvedEntity{Confidence: ConfidenceNone, Source: SourceNone}
}
